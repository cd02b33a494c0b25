package creatives

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGameSessions() *GameSessions {
	g := NewGameSessions()
	g.intn = func(int) int { return 0 }
	return g
}

func TestGameSessions_Start(t *testing.T) {
	tests := []struct {
		game     GameType
		contains string
		check    func(t *testing.T, s GameState)
	}{
		{
			game:     Game20Questions,
			contains: "Ask your first yes/no question",
			check: func(t *testing.T, s GameState) {
				assert.Equal(t, "pizza", s.Answer)
				assert.Zero(t, s.Guesses)
			},
		},
		{
			game:     GameStorytelling,
			contains: "**Story starter:** *In a world where colors had sounds",
			check: func(t *testing.T, s GameState) {
				assert.Contains(t, s.Story, "Maria")
			},
		},
		{
			game:     GameWouldYouRather,
			contains: "fly or be invisible",
			check: func(t *testing.T, s GameState) {
				assert.NotEmpty(t, s.Question)
			},
		},
		{
			game:     GameRiddles,
			contains: "I speak without a mouth",
			check: func(t *testing.T, s GameState) {
				assert.Equal(t, "echo", s.Riddle.Answer)
			},
		},
	}
	for _, tt := range tests {
		t.Run(
			string(tt.game), func(t *testing.T) {
				g := newTestGameSessions()
				content, err := g.Start("u1", tt.game)
				require.NoError(t, err)
				assert.Contains(t, content, tt.contains)
				assert.Contains(t, content, gameDefinitions[tt.game].Intro)

				state, ok := g.Active("u1")
				require.True(t, ok)
				assert.Equal(t, tt.game, state.Type)
				tt.check(t, state)
			},
		)
	}
}

func TestGameSessions_UnknownGame(t *testing.T) {
	g := newTestGameSessions()
	_, err := g.Start("u1", GameType("chess"))
	assert.ErrorIs(t, err, ErrUnknownGame)
	assert.Equal(t, "Game not found!", userNotice(err))
	assert.Zero(t, g.Len())
}

func TestGameSessions_Advance(t *testing.T) {
	g := newTestGameSessions()
	assert.Empty(t, g.Advance("u1", "hello"))

	_, err := g.Start("u1", Game20Questions)
	require.NoError(t, err)
	prompt := g.Advance("u1", "is it food?")
	assert.Contains(t, prompt, `You're thinking of "pizza"`)
	assert.Contains(t, prompt, "question #1")
	prompt = g.Advance("u1", "is it round?")
	assert.Contains(t, prompt, "question #2")
	state, ok := g.Active("u1")
	require.True(t, ok)
	assert.Equal(t, 2, state.Guesses)

	_, err = g.Start("u2", GameStorytelling)
	require.NoError(t, err)
	g.Advance("u2", "a melody.")
	state, ok = g.Active("u2")
	require.True(t, ok)
	assert.Contains(t, state.Story, "could hear a melody.")

	// one-shot games end after the first move
	for _, game := range []GameType{GameWouldYouRather, GameRiddles} {
		_, err = g.Start("u3", game)
		require.NoError(t, err)
		assert.NotEmpty(t, g.Advance("u3", "my answer"))
		_, ok = g.Active("u3")
		assert.False(t, ok, game)
	}
}

func TestGameSessions_Forget(t *testing.T) {
	g := newTestGameSessions()
	_, err := g.Start("u1", GameRiddles)
	require.NoError(t, err)
	g.Forget("u1")
	_, ok := g.Active("u1")
	assert.False(t, ok)

	var _ UserForgetter = g
}
