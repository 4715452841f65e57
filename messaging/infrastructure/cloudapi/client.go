package cloudapi

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/flowdesk/msggate/pkg/apperror"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

const defaultTimeout = 15 * time.Second

// Client talks to the provider's hosted messages endpoint using a tenant's
// own credentials. One client serves all tenants; credentials travel per call.
type Client struct {
	http    *fasthttp.Client
	timeout time.Duration
}

func NewClient() *Client {
	return &Client{
		http: &fasthttp.Client{
			ReadTimeout:  defaultTimeout,
			WriteTimeout: defaultTimeout,
		},
		timeout: defaultTimeout,
	}
}

type sendTextRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type textBody struct {
	Body string `json:"body"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// SendText posts a text message and returns the provider message id. Errors
// are classified: transport failures and 5xx are retryable, 4xx are not.
func (c *Client) SendText(endpoint, phoneID, accessToken, to, body string) (string, error) {
	payload, err := json.Marshal(sendTextRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             textBody{Body: body},
	})
	if err != nil {
		return "", apperror.NewPermanentSendError(fmt.Sprintf("encode request: %v", err))
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(fmt.Sprintf("%s/%s/messages", endpoint, phoneID))
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.SetBody(payload)

	if err := c.http.DoTimeout(req, resp, c.timeout); err != nil {
		return "", apperror.NewRetryableSendError(fmt.Sprintf("push api unreachable: %v", err))
	}

	status := resp.StatusCode()
	var parsed sendResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil && status < 300 {
		return "", apperror.NewRetryableSendError(fmt.Sprintf("push api returned unparseable body (status %d)", status))
	}

	switch {
	case status >= 200 && status < 300:
		if len(parsed.Messages) == 0 {
			return "", apperror.NewRetryableSendError("push api accepted but returned no message id")
		}
		return parsed.Messages[0].ID, nil

	case status == fasthttp.StatusTooManyRequests || status >= 500:
		return "", apperror.NewRetryableSendError(apiFailureReason(status, parsed))

	default:
		logrus.WithFields(logrus.Fields{
			"status": status,
			"to":     to,
		}).Warn("[CLOUDAPI] Permanent send rejection")
		return "", apperror.NewPermanentSendError(apiFailureReason(status, parsed))
	}
}

func apiFailureReason(status int, parsed sendResponse) string {
	if parsed.Error != nil && parsed.Error.Message != "" {
		return fmt.Sprintf("push api error %d: %s", parsed.Error.Code, parsed.Error.Message)
	}
	return fmt.Sprintf("push api returned status %d", status)
}
