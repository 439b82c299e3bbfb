package gateway

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Dan9191/marketplace-ledger/internal/config"
	"github.com/beevik/etree"
	"github.com/sirupsen/logrus"
)

// Client talks to the external payment provider's SOAP endpoint. The
// provider integration is not live yet; when no URL is configured the
// processors fail fast instead of calling out.
type Client struct {
	url    string
	client *http.Client
	log    *logrus.Logger
}

// NewClient initializes a new gateway client
func NewClient(cfg *config.Config, log *logrus.Logger) *Client {
	return &Client{
		url: cfg.GatewayURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log,
	}
}

// Configured reports whether a provider endpoint is set
func (c *Client) Configured() bool {
	return c.url != ""
}

// buildSOAPRequest creates a SOAP request to initiate a payment
func (c *Client) buildSOAPRequest(sessionID, buyerID, amount, currency string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
		<soap12:Envelope xmlns:soap12="http://www.w3.org/2003/05/soap-envelope">
			<soap12:Body>
				<InitiatePayment xmlns="http://gateway.marketplace.local/">
					<MerchantReference>%s</MerchantReference>
					<Payer>%s</Payer>
					<Amount>%s</Amount>
					<Currency>%s</Currency>
				</InitiatePayment>
			</soap12:Body>
		</soap12:Envelope>`, sessionID, buyerID, amount, currency)
}

// sendRequest sends a SOAP request to the provider
func (c *Client) sendRequest(soapRequest string) ([]byte, error) {
	req, err := http.NewRequest("POST", c.url, bytes.NewBuffer([]byte(soapRequest)))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}

	req.Header.Set("Content-Type", "application/soap+xml; charset=utf-8")
	req.Header.Set("SOAPAction", "http://gateway.marketplace.local/InitiatePayment")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %v", err)
	}

	c.log.Debugf("Gateway XML response: %s", string(body))

	return body, nil
}

// parseXMLResponse extracts the provider's payment reference
func (c *Client) parseXMLResponse(rawBody []byte) (string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(rawBody); err != nil {
		return "", fmt.Errorf("failed to parse XML: %v", err)
	}

	refElement := doc.FindElement("//InitiatePaymentResult/ProviderReference")
	if refElement == nil {
		return "", fmt.Errorf("no provider reference found in XML")
	}
	if refElement.Text() == "" {
		return "", fmt.Errorf("empty provider reference in XML")
	}
	return refElement.Text(), nil
}

// InitiatePayment asks the provider to collect a payment and returns the
// provider's reference. A transport error or timeout is returned as an error
// so the caller can mark the payment FAILED rather than leave it ambiguous.
func (c *Client) InitiatePayment(sessionID, buyerID string, amount, currency string) (string, error) {
	if !c.Configured() {
		return "", fmt.Errorf("payment gateway not configured")
	}
	soapRequest := c.buildSOAPRequest(sessionID, buyerID, amount, currency)
	body, err := c.sendRequest(soapRequest)
	if err != nil {
		return "", err
	}

	ref, err := c.parseXMLResponse(body)
	if err != nil {
		return "", err
	}

	c.log.Infof("Gateway accepted payment for session %s: ref %s", sessionID, ref)
	return ref, nil
}
