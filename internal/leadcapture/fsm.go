// Package leadcapture implements the onboarding flow that collects a
// visitor's name and phone number before general assistance starts.
//
// The machine is pure: Transition never performs I/O. Persisting a lead is
// requested through a SaveLead effect, and the caller reports the outcome
// back with a LeadSaved or LeadFailed event.
package leadcapture

import (
	"strings"

	"github.com/tfiber/tera-assist/internal/domain"
	"github.com/tfiber/tera-assist/internal/lead"
	"github.com/tfiber/tera-assist/internal/locale"
)

// State is the onboarding step.
type State string

const (
	AwaitingName  State = "awaiting_name"
	AwaitingPhone State = "awaiting_phone"
	Completed     State = "completed"
)

// Machine is the lead capture state. The zero value is not valid; use New.
type Machine struct {
	State State  `json:"state"`
	Name  string `json:"name,omitempty"`
}

// New returns a machine waiting for the visitor's name.
func New() Machine {
	return Machine{State: AwaitingName}
}

// Resume returns a machine for a conversation whose lead is already captured.
func Resume() Machine {
	return Machine{State: Completed}
}

// Restore rebuilds a machine from a recorded state and captured name.
// Unknown states, and a phone step without a name, start over.
func Restore(state State, name string) Machine {
	switch state {
	case Completed:
		return Resume()
	case AwaitingPhone:
		if name = strings.TrimSpace(name); name != "" {
			return Machine{State: AwaitingPhone, Name: name}
		}
	}
	return New()
}

// Event is an input to the machine.
type Event interface{ isEvent() }

// Entered is fed once when the chat view opens.
type Entered struct{}

// UserText carries a visitor message.
type UserText struct{ Text string }

// LeadSaved reports that a SaveLead effect succeeded.
type LeadSaved struct{ LeadID int64 }

// LeadFailed reports that a SaveLead effect failed.
type LeadFailed struct{ Detail string }

// LanguageChanged is fed after the session language switches.
type LanguageChanged struct{ Language domain.Language }

func (Entered) isEvent()         {}
func (UserText) isEvent()        {}
func (LeadSaved) isEvent()       {}
func (LeadFailed) isEvent()      {}
func (LanguageChanged) isEvent() {}

// Prompt identifies a localized bot text.
type Prompt int

const (
	PromptName Prompt = iota
	PromptPhone
	PromptInvalidPhone
	PromptThanks
	PromptGreeting
	PromptSaveError
)

// Text renders p in the given texts, substituting name where the text has a
// placeholder.
func (p Prompt) Text(t locale.Texts, name string) string {
	switch p {
	case PromptName:
		return t.NamePrompt
	case PromptPhone:
		return locale.WithName(t.PhonePrompt, name)
	case PromptInvalidPhone:
		return t.InvalidPhone
	case PromptThanks:
		return locale.WithName(t.Thanks, name)
	case PromptGreeting:
		return t.Greeting
	case PromptSaveError:
		return t.SaveError
	default:
		return ""
	}
}

// NoticeKind classifies a Notify effect.
type NoticeKind int

const (
	NoticeLeadSaved NoticeKind = iota
	NoticeLeadError
)

// Effect is an output the caller must carry out in order.
type Effect interface{ isEffect() }

// Say emits a bot message.
type Say struct {
	Prompt Prompt
	Name   string
}

// SaveLead asks the caller to persist the lead.
type SaveLead struct {
	Name  string
	Phone string
}

// Notify raises a transient notice.
type Notify struct {
	Kind   NoticeKind
	Detail string
}

// Ask forwards the text to the response cascade.
type Ask struct{ Text string }

func (Say) isEffect()      {}
func (SaveLead) isEffect() {}
func (Notify) isEffect()   {}
func (Ask) isEffect()      {}

// Transition applies ev to m and returns the next machine with the effects
// to perform. Events that do not apply to the current state are ignored.
func Transition(m Machine, ev Event) (Machine, []Effect) {
	switch e := ev.(type) {
	case Entered:
		if m.State == AwaitingName {
			return m, []Effect{Say{Prompt: PromptName}}
		}
		return m, nil

	case UserText:
		return onText(m, e.Text)

	case LeadSaved:
		if m.State != AwaitingPhone {
			return m, nil
		}
		m.State = Completed
		return m, []Effect{
			Say{Prompt: PromptThanks, Name: m.Name},
			Say{Prompt: PromptGreeting},
			Notify{Kind: NoticeLeadSaved},
		}

	case LeadFailed:
		if m.State != AwaitingPhone {
			return m, nil
		}
		return m, []Effect{
			Say{Prompt: PromptSaveError},
			Say{Prompt: PromptPhone, Name: m.Name},
			Notify{Kind: NoticeLeadError, Detail: e.Detail},
		}

	case LanguageChanged:
		return m, []Effect{Say{Prompt: CurrentPrompt(m), Name: m.Name}}
	}
	return m, nil
}

func onText(m Machine, text string) (Machine, []Effect) {
	switch m.State {
	case AwaitingName:
		m.Name = strings.TrimSpace(text)
		m.State = AwaitingPhone
		return m, []Effect{Say{Prompt: PromptPhone, Name: m.Name}}

	case AwaitingPhone:
		phone := strings.TrimSpace(text)
		if !lead.ValidPhone(phone) {
			return m, []Effect{Say{Prompt: PromptInvalidPhone}}
		}
		return m, []Effect{SaveLead{Name: m.Name, Phone: phone}}

	default:
		return m, []Effect{Ask{Text: text}}
	}
}

// CurrentPrompt is the prompt that represents the machine's state to the
// visitor: the pending question while onboarding, the greeting afterwards.
func CurrentPrompt(m Machine) Prompt {
	switch m.State {
	case AwaitingName:
		return PromptName
	case AwaitingPhone:
		return PromptPhone
	default:
		return PromptGreeting
	}
}
