package cmd

import (
	"testing"

	"github.com/creative812/Creatives-bot/creatives"
	"github.com/stretchr/testify/assert"
)

func TestRunRequiresTokens(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr []error
	}{
		{
			name:    "no tokens",
			wantErr: []error{creatives.ErrMissingDiscordToken, creatives.ErrMissingOpenAIToken},
		},
		{
			name:    "discord only",
			env:     map[string]string{"CB_DISCORD_TOKEN": "discord"},
			wantErr: []error{creatives.ErrMissingOpenAIToken},
		},
		{
			name:    "openai only",
			env:     map[string]string{"CB_OPENAI_TOKEN": "sk-test"},
			wantErr: []error{creatives.ErrMissingDiscordToken},
		},
	}
	for _, tt := range tests {
		t.Run(
			tt.name, func(t *testing.T) {
				isolateEnv(t)
				for k, v := range tt.env {
					t.Setenv(k, v)
				}
				_, err := execute(t, "", "run")
				for _, want := range tt.wantErr {
					assert.ErrorIs(t, err, want)
				}
			},
		)
	}
}

func TestRunRejectsArgs(t *testing.T) {
	isolateEnv(t)
	_, err := execute(t, "", "run", "extra")
	assert.Error(t, err)
}
