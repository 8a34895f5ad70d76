package messaging

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// ValidateTwilioSignature checks the X-Twilio-Signature header against the
// form body and the public webhook URL.
func ValidateTwilioSignature(r *http.Request, authToken, webhookURL string) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" || authToken == "" {
		return false
	}
	if err := r.ParseForm(); err != nil {
		return false
	}
	expected := SignTwilioPayload(authToken, webhookURL, r.PostForm)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// SignTwilioPayload computes the signature Twilio sends for the given request.
func SignTwilioPayload(authToken, webhookURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var payload strings.Builder
	payload.WriteString(webhookURL)
	for _, key := range keys {
		for _, value := range params[key] {
			payload.WriteString(key)
			payload.WriteString(value)
		}
	}

	h := hmac.New(sha1.New, []byte(authToken))
	h.Write([]byte(payload.String()))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// TwilioInbound is the subset of an inbound SMS webhook the engine needs.
type TwilioInbound struct {
	MessageSID string
	From       string
	To         string
	Body       string
}

// ParseTwilioWebhook reads an inbound SMS webhook form.
func ParseTwilioWebhook(r *http.Request) (TwilioInbound, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioInbound{}, fmt.Errorf("messaging: parse twilio form: %w", err)
	}
	return TwilioInbound{
		MessageSID: r.FormValue("MessageSid"),
		From:       r.FormValue("From"),
		To:         r.FormValue("To"),
		Body:       r.FormValue("Body"),
	}, nil
}

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Message *string  `xml:"Message,omitempty"`
}

// TwiMLMessage renders a TwiML document replying with body, or an empty
// response when body is blank.
func TwiMLMessage(body string) ([]byte, error) {
	resp := twimlResponse{}
	if strings.TrimSpace(body) != "" {
		resp.Message = &body
	}
	out, err := xml.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("messaging: encode twiml: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}
