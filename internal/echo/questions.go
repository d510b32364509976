package echo

// questionBank is the rotating set of daily questions. The day's question
// is questionBank[dayOfYear % len(questionBank)], so both members pick the
// same question with no store round-trip.
var questionBank = []string{
	"What's one thing that made you think of me today?",
	"What made you smile today?",
	"What's something you're looking forward to?",
	"What's a small victory you had today?",
	"What's something you're grateful for right now?",
	"If you could tell me one thing right now, what would it be?",
	"What's been on your mind lately?",
	"What's something that challenged you today?",
	"What's a memory of us that made you happy recently?",
	"What do you need most right now?",
	"What's something you want to learn together?",
	"What's a dream you still want to chase?",
	"What made you feel loved today?",
	"What's something silly that made you laugh?",
	"What would your perfect day with me look like?",
	"What's something you appreciate about yourself?",
	"What's a song that reminds you of us?",
	"What's something you want to tell me but haven't yet?",
	"What's making you feel energized or drained right now?",
	"What's a tradition you'd love for us to start?",
	"What's something that surprised you today?",
	"What do you miss most when we're apart?",
	"What's a compliment you wish I'd give you more?",
	"What's your favorite way I show you love?",
	"What's something you're proud of me for?",
	"What's a place you'd love to visit together?",
	"What's something that made you feel peaceful today?",
	"What's a hobby you'd like us to try together?",
	"What's your favorite quality about us as a couple?",
	"What's something you want more of in your life?",
}
