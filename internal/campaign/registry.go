package campaign

import (
	"fmt"
	"sort"
	"strings"
)

// Registry is an immutable catalog of campaign definitions. It is safe for
// concurrent use without synchronization because nothing mutates it after
// construction.
type Registry struct {
	versions map[string][]Definition // ascending by version
}

// NewRegistry validates defs and builds a registry. Any malformed definition
// yields a *ConfigurationError.
func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{versions: make(map[string][]Definition)}
	for _, def := range defs {
		def = normalize(def)
		if err := validateDefinition(def); err != nil {
			return nil, err
		}
		for _, existing := range r.versions[def.ID] {
			if existing.Version == def.Version {
				return nil, configErr(def.ID, "duplicate version %d", def.Version)
			}
		}
		r.versions[def.ID] = append(r.versions[def.ID], def)
	}
	for id := range r.versions {
		list := r.versions[id]
		sort.Slice(list, func(i, j int) bool { return list[i].Version < list[j].Version })
	}
	if err := r.validateFallbacks(); err != nil {
		return nil, err
	}
	return r, nil
}

// Get returns the latest version of the campaign.
func (r *Registry) Get(id string) (Definition, error) {
	list := r.versions[id]
	if len(list) == 0 {
		return Definition{}, fmt.Errorf("%w: %s", ErrUnknownCampaign, id)
	}
	return list[len(list)-1].clone(), nil
}

// GetVersion returns a specific version of the campaign.
func (r *Registry) GetVersion(id string, version int) (Definition, error) {
	for _, def := range r.versions[id] {
		if def.Version == version {
			return def.clone(), nil
		}
	}
	return Definition{}, fmt.Errorf("%w: %s@v%d", ErrUnknownCampaign, id, version)
}

// List returns the latest version of every campaign, ordered by id.
func (r *Registry) List() []Definition {
	ids := make([]string, 0, len(r.versions))
	for id := range r.versions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]Definition, 0, len(ids))
	for _, id := range ids {
		list := r.versions[id]
		out = append(out, list[len(list)-1].clone())
	}
	return out
}

func normalize(def Definition) Definition {
	def = def.clone()
	def.ID = strings.TrimSpace(def.ID)
	if def.Version == 0 {
		def.Version = 1
	}
	for i := range def.ResponseHandlers {
		for j, kw := range def.ResponseHandlers[i].Keywords {
			def.ResponseHandlers[i].Keywords[j] = strings.ToLower(strings.TrimSpace(kw))
		}
	}
	return def
}

func validateDefinition(def Definition) error {
	if strings.TrimSpace(def.ID) == "" {
		return configErr("", "id required")
	}
	if def.Version < 0 {
		return configErr(def.ID, "version must be positive")
	}
	if len(def.Events) == 0 {
		return configErr(def.ID, "at least one automation event required")
	}
	for i, ev := range def.Events {
		if ev.Channel != ChannelSMS && ev.Channel != ChannelEmail {
			return configErr(def.ID, "event %d: unknown channel %q", i, ev.Channel)
		}
		if ev.Delay < 0 {
			return configErr(def.ID, "event %d: negative delay", i)
		}
		if i > 0 && ev.Delay < def.Events[i-1].Delay {
			return configErr(def.ID, "event %d: delay %s precedes event %d delay %s", i, ev.Delay, i-1, def.Events[i-1].Delay)
		}
		if strings.TrimSpace(ev.Template.Body) == "" {
			return configErr(def.ID, "event %d: template body required", i)
		}
		if ev.Channel == ChannelEmail && strings.TrimSpace(ev.Template.Subject) == "" {
			return configErr(def.ID, "event %d: email subject required", i)
		}
	}
	for i, h := range def.ResponseHandlers {
		if !h.Action.Valid() {
			return configErr(def.ID, "handler %d: unknown action %q", i, h.Action)
		}
		if h.Action == ActionCustom && strings.TrimSpace(h.Tag) == "" {
			return configErr(def.ID, "handler %d: custom action requires a tag", i)
		}
		if len(h.Keywords) == 0 && h.Action != ActionDefaultReply {
			return configErr(def.ID, "handler %d: keywords required for %s", i, h.Action)
		}
		for _, kw := range h.Keywords {
			if strings.TrimSpace(kw) == "" {
				return configErr(def.ID, "handler %d: blank keyword", i)
			}
		}
		if h.Action == ActionOfferTimes && len(h.Slots) == 0 {
			return configErr(def.ID, "handler %d: offer_times requires slots", i)
		}
	}
	return nil
}

// validateFallbacks rejects fallbacks to unregistered campaigns and cycles.
func (r *Registry) validateFallbacks() error {
	for id, list := range r.versions {
		for _, def := range list {
			if def.FallbackCampaignID == "" {
				continue
			}
			if _, ok := r.versions[def.FallbackCampaignID]; !ok {
				return configErr(id, "fallback campaign %q is not registered", def.FallbackCampaignID)
			}
		}
		seen := map[string]bool{id: true}
		next := list[len(list)-1].FallbackCampaignID
		for next != "" {
			if seen[next] {
				return configErr(id, "fallback chain loops back to %q", next)
			}
			seen[next] = true
			chain := r.versions[next]
			next = chain[len(chain)-1].FallbackCampaignID
		}
	}
	return nil
}
