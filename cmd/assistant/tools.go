package main

import (
	"context"
	"fmt"
	"time"

	"github.com/lokutor-ai/lokutor-live/pkg/live"
)

// muter is the slice of the session the tools need.
type muter interface {
	SetMuted(bool)
	Muted() bool
}

type toolbox struct {
	mic muter
	now func() time.Time
}

func newToolbox(mic muter) *toolbox {
	return &toolbox{mic: mic, now: time.Now}
}

func (t *toolbox) Declarations() []live.FunctionDeclaration {
	return []live.FunctionDeclaration{
		{
			Name:        "get_current_time",
			Description: "Returns the current local date and time.",
		},
		{
			Name:        "set_microphone_mute",
			Description: "Mutes or unmutes the user's microphone.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"muted": map[string]any{
						"type":        "boolean",
						"description": "true to mute, false to unmute",
					},
				},
				"required": []string{"muted"},
			},
		},
	}
}

func (t *toolbox) Handle(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "get_current_time":
		now := t.now()
		return map[string]any{
			"time":     now.Format(time.RFC3339),
			"timezone": now.Location().String(),
		}, nil
	case "set_microphone_mute":
		muted, ok := args["muted"].(bool)
		if !ok {
			return nil, fmt.Errorf("argument %q must be a boolean", "muted")
		}
		t.mic.SetMuted(muted)
		return map[string]any{"muted": t.mic.Muted()}, nil
	}
	return nil, fmt.Errorf("unknown tool %q", name)
}
