package creatives

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
)

// GameType identifies a conversation game. The values are the choice
// values of the ai-game command.
type GameType string

const (
	Game20Questions    GameType = "20questions"
	GameStorytelling   GameType = "storytelling"
	GameWouldYouRather GameType = "wouldyourather"
	GameRiddles        GameType = "riddles"
)

var ErrUnknownGame = newUserError("Game not found!")

type riddle struct {
	Question string
	Answer   string
}

type gameDefinition struct {
	Name  string
	Emoji string
	Intro string

	items     []string
	starters  []string
	questions []string
	riddles   []riddle
}

var gameDefinitions = map[GameType]gameDefinition{
	Game20Questions: {
		Name:  "20 Questions",
		Emoji: "🎯",
		Intro: "🎯 I'm thinking of something! Ask me yes/no questions to guess what it is!",
		items: []string{
			"pizza", "smartphone", "rainbow", "ocean",
			"guitar", "butterfly", "mountain", "book",
		},
	},
	GameStorytelling: {
		Name:  "Story Building",
		Emoji: "📚",
		Intro: "📚 Let's create a story together! I'll start with a sentence, then you add the next one...",
		starters: []string{
			"In a world where colors had sounds, Maria discovered she could hear",
			"The old lighthouse keeper noticed something strange washing up on shore",
			"When the last library on Earth closed, the books began to",
		},
	},
	GameWouldYouRather: {
		Name:  "Would You Rather",
		Emoji: "🤔",
		Intro: "🤔 Here's a tough choice for you...",
		questions: []string{
			"Would you rather have the ability to fly or be invisible?",
			"Would you rather always know when someone is lying or always get away with lying?",
			"Would you rather have perfect memory or perfect intuition?",
		},
	},
	GameRiddles: {
		Name:  "Riddle Time",
		Emoji: "🧩",
		Intro: "🧩 Here's a riddle for you to solve...",
		riddles: []riddle{
			{Question: "I speak without a mouth and hear without ears. What am I?", Answer: "echo"},
			{Question: "The more you take away from me, the bigger I become. What am I?", Answer: "hole"},
			{Question: "I'm tall when I'm young, short when I'm old. What am I?", Answer: "candle"},
		},
	},
}

// gameChoices is the ai-game option order.
var gameChoices = []GameType{Game20Questions, GameStorytelling, GameWouldYouRather, GameRiddles}

// GameState is one user's active game.
type GameState struct {
	Type GameType

	// 20 questions
	Answer  string
	Guesses int

	// storytelling
	Story string

	// would you rather
	Question string

	// riddles
	Riddle riddle
}

// GameSessions holds at most one active game per user. It implements
// UserForgetter, so evicting a user's conversation also ends their game.
type GameSessions struct {
	mu     sync.Mutex
	active map[string]*GameState
	intn   func(n int) int
}

func NewGameSessions() *GameSessions {
	return &GameSessions{
		active: map[string]*GameState{},
		intn:   rand.IntN,
	}
}

func pick[T any](intn func(int) int, items []T) T {
	return items[intn(len(items))]
}

// Start begins a game for userID, replacing any active game, and returns
// the text announcing it.
func (g *GameSessions) Start(userID string, game GameType) (string, error) {
	def, ok := gameDefinitions[game]
	if !ok {
		return "", ErrUnknownGame
	}
	state := &GameState{Type: game}

	g.mu.Lock()
	defer g.mu.Unlock()

	var content string
	switch game {
	case Game20Questions:
		state.Answer = pick(g.intn, def.items)
		content = fmt.Sprintf(
			"%s\n\n*I've chosen something... Ask your first yes/no question!*\n\n"+
				"**Hint:** Use your trigger symbol (like `!`) before your question so I can respond!",
			def.Intro,
		)
	case GameStorytelling:
		state.Story = pick(g.intn, def.starters)
		content = fmt.Sprintf(
			"%s\n\n**Story starter:** *%s...*\n\n"+
				"**Your turn:** Continue the story using your trigger symbol (like `!your continuation`)!",
			def.Intro,
			state.Story,
		)
	case GameWouldYouRather:
		state.Question = pick(g.intn, def.questions)
		content = fmt.Sprintf(
			"%s\n\n**%s**\n\n"+
				"**Tell me:** Use your trigger symbol (like `!I choose flying because...`) to share your choice and reasoning!",
			def.Intro,
			state.Question,
		)
	case GameRiddles:
		state.Riddle = pick(g.intn, def.riddles)
		content = fmt.Sprintf(
			"%s\n\n**%s**\n\n**Your answer:** Use your trigger symbol (like `!echo`) to give your answer!",
			def.Intro,
			state.Riddle.Question,
		)
	}
	g.active[userID] = state
	return content, nil
}

// Active returns a copy of the user's active game.
func (g *GameSessions) Active(userID string) (GameState, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	state, ok := g.active[userID]
	if !ok {
		return GameState{}, false
	}
	return *state, true
}

func (g *GameSessions) Forget(userID string) {
	g.mu.Lock()
	delete(g.active, userID)
	g.mu.Unlock()
}

func (g *GameSessions) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.active)
}

// Advance records the user's move and returns the game context to add
// to the system prompt. One-shot games end here. Returns "" when the
// user has no active game.
func (g *GameSessions) Advance(userID, message string) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	state, ok := g.active[userID]
	if !ok {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n\nACTIVE GAME CONTEXT: The user is currently playing %s. ", state.Type)
	switch state.Type {
	case Game20Questions:
		fmt.Fprintf(
			&b,
			"You're thinking of %q. The user is asking question #%d. "+
				"Answer only YES or NO, and give a hint if they're close. "+
				"If they guess correctly, congratulate them and end the game.",
			state.Answer,
			state.Guesses+1,
		)
		state.Guesses++
	case GameStorytelling:
		fmt.Fprintf(
			&b,
			"Story so far: %q The user is continuing the story. "+
				"Add their contribution and continue the narrative naturally.",
			state.Story,
		)
		state.Story += " " + message
	case GameWouldYouRather:
		fmt.Fprintf(
			&b,
			"The question was: %q The user is sharing their choice. "+
				"Respond to their reasoning and maybe ask a follow-up question about their choice.",
			state.Question,
		)
		delete(g.active, userID)
	case GameRiddles:
		fmt.Fprintf(
			&b,
			"The riddle was: %q and the answer is %q. "+
				"Check if their answer is correct and respond accordingly.",
			state.Riddle.Question,
			state.Riddle.Answer,
		)
		delete(g.active, userID)
	}
	return b.String()
}
