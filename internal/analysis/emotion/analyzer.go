// Package emotion 根据关键词为远端语音选择播放语气。
package emotion

import (
	"math"
	"strings"
)

// Label 表示语音播放可以接受的情绪标签。
type Label string

const (
	Neutral   Label = "neutral"
	Happy     Label = "happy"
	Sad       Label = "sad"
	Nostalgic Label = "nostalgic"
	Proud     Label = "proud"
	Tender    Label = "tender"
	Comfort   Label = "comfort"
)

// Decision 是选定的情绪及其强度（1-5）。
type Decision struct {
	Emotion Label   `json:"emotion"`
	Scale   float32 `json:"scale"`
	Score   int     `json:"score"`
}

var keywordBuckets = map[Label][]string{
	Happy: {
		"happy", "glad", "great", "wonderful", "laugh", "smile", "fun", "love", "thanks", "thank you", "ha!",
	},
	Sad: {
		"sad", "miss you", "lonely", "cry", "hurt", "lost", "sorry", "tired", "hard time", "grief", "wish you were",
	},
	Nostalgic: {
		"remember", "used to", "back then", "those days", "when you were", "fishing", "recipe", "old house",
	},
	Proud: {
		"proud", "accomplished", "determination", "graduated", "promotion", "did it", "achieved",
	},
	Tender: {
		"dear", "sweetheart", "gently", "hug", "kind", "kiddo", "think about you",
	},
	Comfort: {
		"don't worry", "it's okay", "i'm here", "you'll be fine", "take care", "eating properly", "get some rest",
	},
}

// Analyze 为回复文本选择情绪；回复本身平淡时参考用户文本，
// 让悲伤的消息得到安慰的语气。
func Analyze(userText, replyText string) Decision {
	userScore := scoreText(userText)
	replyScore := scoreText(replyText)

	final := replyScore
	if final.Score == 0 && userScore.Score > 0 {
		final = coerceFromUser(userScore)
	}
	if final.Score == 0 {
		return Decision{Emotion: Neutral, Scale: 3}
	}

	scale := 2 + float32(final.Score)/4
	if final.Emotion == Comfort || final.Emotion == Tender {
		scale = float32(math.Min(3.5, float64(scale)))
	}
	if scale < 1 {
		scale = 1
	}
	if scale > 5 {
		scale = 5
	}
	return Decision{Emotion: final.Emotion, Scale: scale, Score: final.Score}
}

func scoreText(text string) Decision {
	normalized := strings.TrimSpace(strings.ToLower(text))
	if normalized == "" {
		return Decision{Emotion: Neutral}
	}

	scores := make(map[Label]int)
	for label, keywords := range keywordBuckets {
		for _, word := range keywords {
			if strings.Contains(normalized, word) {
				scores[label] += 3
			}
		}
	}
	if n := strings.Count(text, "!"); n > 0 {
		scores[Happy] += 2 * n
	}

	best, bestScore := Neutral, 0
	for _, label := range []Label{Happy, Sad, Nostalgic, Proud, Tender, Comfort} {
		if s := scores[label]; s > bestScore {
			best, bestScore = label, s
		}
	}
	return Decision{Emotion: best, Score: bestScore}
}

func coerceFromUser(user Decision) Decision {
	switch user.Emotion {
	case Sad:
		return Decision{Emotion: Comfort, Score: user.Score}
	case Proud:
		return Decision{Emotion: Proud, Score: user.Score}
	case Happy:
		return Decision{Emotion: Happy, Score: user.Score}
	case Nostalgic, Tender, Comfort:
		return Decision{Emotion: Tender, Score: user.Score}
	default:
		return user
	}
}
