package campaign

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

//go:embed builtin/*.json
var builtinFS embed.FS

const builtinCatalog = "builtin/campaigns.json"

type catalogFile struct {
	Campaigns []definitionFile `json:"campaigns" validate:"required,min=1,dive"`
}

type definitionFile struct {
	ID                 string            `json:"id" validate:"required"`
	Name               string            `json:"name" validate:"required"`
	Version            int               `json:"version" validate:"gte=0"`
	FallbackCampaignID string            `json:"fallbackCampaignId"`
	Settings           map[string]string `json:"settings"`
	Defaults           map[string]string `json:"defaults"`
	Events             []eventFile       `json:"events" validate:"required,min=1,dive"`
	ResponseHandlers   []handlerFile     `json:"responseHandlers" validate:"dive"`
}

type eventFile struct {
	Channel      string       `json:"channel" validate:"required,oneof=sms email"`
	DelayMinutes int          `json:"delayMinutes" validate:"gte=0"`
	Delay        string       `json:"delay"`
	Template     templateFile `json:"template"`
}

type handlerFile struct {
	Keywords      []string     `json:"keywords" validate:"dive,required"`
	Action        string       `json:"action" validate:"required,oneof=offer_times book_appointment default_reply opt_out custom"`
	Tag           string       `json:"tag" validate:"required_if=Action custom"`
	Slots         []string     `json:"slots" validate:"dive,required"`
	ReplyTemplate templateFile `json:"replyTemplate"`
}

type templateFile struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Parse decodes and validates a JSON campaign catalog.
func Parse(data []byte) ([]Definition, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var file catalogFile
	if err := dec.Decode(&file); err != nil {
		return nil, &ConfigurationError{Reason: "decode catalog", Err: err}
	}
	if err := validator.New().Struct(file); err != nil {
		return nil, validationError(file, err)
	}

	defs := make([]Definition, 0, len(file.Campaigns))
	for _, raw := range file.Campaigns {
		def, err := raw.toDefinition()
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// LoadFile builds a registry from a JSON catalog on disk.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("campaign: read %s: %w", path, err)
	}
	defs, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return NewRegistry(defs...)
}

// LoadBuiltin builds a registry from the catalog compiled into the binary.
func LoadBuiltin() (*Registry, error) {
	data, err := builtinFS.ReadFile(builtinCatalog)
	if err != nil {
		return nil, fmt.Errorf("campaign: read builtin catalog: %w", err)
	}
	defs, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return NewRegistry(defs...)
}

// Load uses path when set, otherwise the builtin catalog.
func Load(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return LoadBuiltin()
	}
	return LoadFile(path)
}

func (f definitionFile) toDefinition() (Definition, error) {
	def := Definition{
		ID:                 strings.TrimSpace(f.ID),
		Name:               f.Name,
		Version:            f.Version,
		FallbackCampaignID: strings.TrimSpace(f.FallbackCampaignID),
		Settings:           cloneMap(f.Settings),
		Defaults:           cloneMap(f.Defaults),
	}
	if def.Version == 0 {
		def.Version = 1
	}
	for i, ev := range f.Events {
		delay := time.Duration(ev.DelayMinutes) * time.Minute
		if ev.Delay != "" {
			parsed, err := time.ParseDuration(ev.Delay)
			if err != nil {
				return Definition{}, &ConfigurationError{CampaignID: def.ID, Reason: fmt.Sprintf("event %d delay", i), Err: err}
			}
			delay = parsed
		}
		def.Events = append(def.Events, AutomationEvent{
			Channel:  Channel(ev.Channel),
			Delay:    delay,
			Template: MessageTemplate{Subject: ev.Template.Subject, Body: ev.Template.Body},
		})
	}
	for _, h := range f.ResponseHandlers {
		keywords := make([]string, 0, len(h.Keywords))
		for _, kw := range h.Keywords {
			keywords = append(keywords, strings.ToLower(strings.TrimSpace(kw)))
		}
		def.ResponseHandlers = append(def.ResponseHandlers, ResponseHandler{
			Keywords:      keywords,
			Action:        Action(h.Action),
			Tag:           strings.TrimSpace(h.Tag),
			Slots:         append([]string(nil), h.Slots...),
			ReplyTemplate: MessageTemplate{Subject: h.ReplyTemplate.Subject, Body: h.ReplyTemplate.Body},
		})
	}
	return def, nil
}

func validationError(file catalogFile, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ConfigurationError{Reason: "validate catalog", Err: err}
	}
	fe := verrs[0]
	id := ""
	// Namespace looks like catalogFile.Campaigns[2].Events[0].Channel
	ns := fe.Namespace()
	if idx := campaignIndex(ns); idx >= 0 && idx < len(file.Campaigns) {
		id = file.Campaigns[idx].ID
	}
	return configErr(id, "field %s failed %q validation", ns, fe.Tag())
}

func campaignIndex(namespace string) int {
	const marker = "Campaigns["
	start := strings.Index(namespace, marker)
	if start < 0 {
		return -1
	}
	rest := namespace[start+len(marker):]
	end := strings.Index(rest, "]")
	if end < 0 {
		return -1
	}
	var idx int
	if _, err := fmt.Sscanf(rest[:end], "%d", &idx); err != nil {
		return -1
	}
	return idx
}
