package eligibility

type Level string

const (
	LevelUntrusted    Level = "untrusted"
	LevelQuestionable Level = "questionable"
	LevelNeutral      Level = "neutral"
	LevelReputable    Level = "reputable"
	LevelExemplary    Level = "exemplary"
)

// lower bounds, ascending; each tier is [bound, next bound)
var levelBounds = []struct {
	from  int64
	level Level
}{
	{800, LevelQuestionable},
	{1200, LevelNeutral},
	{1600, LevelReputable},
	{2000, LevelExemplary},
}

// ScoreLevel buckets any integer score into one of five display tiers.
func ScoreLevel(score int64) Level {
	lvl := LevelUntrusted
	for _, b := range levelBounds {
		if score < b.from {
			break
		}
		lvl = b.level
	}
	return lvl
}
