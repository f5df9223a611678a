package otp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/dvloznov/bank-sync/internal/logger"
)

const voipmsEndpoint = "https://voip.ms/api/v1/rest.php"

// VoipMSClient is a minimal client for the voip.ms REST API; the provider
// has no Go SDK. It covers the three calls this system needs: getSMS,
// deleteSMS and sendSMS.
type VoipMSClient struct {
	httpClient *http.Client
	endpoint   string
	username   string
	password   string
	did        string
}

// NewVoipMSClient creates a client for the given API credentials and DID.
func NewVoipMSClient(httpClient *http.Client, username, password, did string) *VoipMSClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &VoipMSClient{
		httpClient: httpClient,
		endpoint:   voipmsEndpoint,
		username:   username,
		password:   password,
		did:        did,
	}
}

type voipmsSMS struct {
	ID      string `json:"id"`
	Date    string `json:"date"`
	Contact string `json:"contact"`
	Message string `json:"message"`
}

type voipmsResponse struct {
	Status string      `json:"status"`
	SMS    []voipmsSMS `json:"sms"`
}

func (c *VoipMSClient) call(ctx context.Context, method string, params url.Values) (*voipmsResponse, error) {
	query := url.Values{
		"api_username": {c.username},
		"api_password": {c.password},
		"method":       {method},
	}
	for k, vs := range params {
		for _, v := range vs {
			query.Add(k, v)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build voip.ms request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("voip.ms %s: %w", method, err)
	}
	defer resp.Body.Close()

	var parsed voipmsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode voip.ms %s response: %w", method, err)
	}
	return &parsed, nil
}

// ListSMS returns inbound messages for the client's DID received on or after
// from.
func (c *VoipMSClient) ListSMS(ctx context.Context, from time.Time) ([]voipmsSMS, error) {
	resp, err := c.call(ctx, "getSMS", url.Values{
		"did":  {c.did},
		"type": {"1"}, // inbound only
		"from": {from.Format("2006-01-02")},
	})
	if err != nil {
		return nil, err
	}
	if resp.Status != "success" && resp.Status != "no_sms" {
		return nil, fmt.Errorf("voip.ms getSMS: status %q", resp.Status)
	}
	return resp.SMS, nil
}

// DeleteSMS removes one message.
func (c *VoipMSClient) DeleteSMS(ctx context.Context, id string) error {
	resp, err := c.call(ctx, "deleteSMS", url.Values{"id": {id}})
	if err != nil {
		return err
	}
	if resp.Status != "success" {
		return fmt.Errorf("voip.ms deleteSMS: status %q", resp.Status)
	}
	return nil
}

// SendSMS sends a message from the client's DID.
func (c *VoipMSClient) SendSMS(ctx context.Context, phoneNumber, message string) error {
	log := logger.FromContext(ctx)
	log.Debug().Str("dst", phoneNumber).Msg("Sending SMS")

	resp, err := c.call(ctx, "sendSMS", url.Values{
		"did":     {c.did},
		"dst":     {phoneNumber},
		"message": {message},
	})
	if err != nil {
		return err
	}
	if resp.Status != "success" {
		return fmt.Errorf("voip.ms sendSMS: status %q", resp.Status)
	}

	log.Debug().Str("dst", phoneNumber).Msg("Sent SMS")
	return nil
}

// SMSChannel polls a voip.ms DID for a verification code.
type SMSChannel struct {
	client *VoipMSClient

	pollInterval time.Duration
	timeout      time.Duration
	now          func() time.Time
}

// NewSMSChannel creates an SMS-backed code channel.
func NewSMSChannel(client *VoipMSClient) *SMSChannel {
	return &SMSChannel{
		client:       client,
		pollInterval: defaultPollInterval,
		timeout:      defaultTimeout,
		now:          time.Now,
	}
}

// RetrieveCode polls for an inbound SMS matching criteria. Sender filters on
// the message contact when set; Subject is ignored for SMS.
func (c *SMSChannel) RetrieveCode(ctx context.Context, criteria Criteria) (string, error) {
	return retrieveWithPolling(ctx, c.pollInterval, c.timeout, func(ctx context.Context) (string, bool, error) {
		return c.poll(ctx, criteria)
	})
}

func (c *SMSChannel) poll(ctx context.Context, criteria Criteria) (string, bool, error) {
	log := logger.FromContext(ctx)
	log.Debug().Msg("Fetching SMS messages")

	messages, err := c.client.ListSMS(ctx, criteria.After)
	if err != nil {
		return "", false, err
	}

	pattern := criteria.pattern()

	for _, sms := range messages {
		if criteria.Sender != "" && sms.Contact != criteria.Sender {
			continue
		}

		received, err := time.ParseInLocation("2006-01-02 15:04:05", sms.Date, time.Local)
		if err != nil || received.Before(criteria.After) {
			continue
		}
		if c.now().Sub(received) > maxMessageAge {
			continue
		}

		code := pattern.FindString(sms.Message)
		if code == "" {
			continue
		}

		log.Debug().Str("sms_id", sms.ID).Msg("Found verification code, deleting SMS")
		if err := c.client.DeleteSMS(ctx, sms.ID); err != nil {
			log.Error().Err(err).Str("sms_id", sms.ID).Msg("Failed to delete SMS")
		}
		return code, true, nil
	}

	return "", false, nil
}
