package profile

import "time"

// Profile is a remembered relative that sessions simulate as the remote party.
type Profile struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Relationship string    `json:"relationship"`
	AvatarURL    string    `json:"avatarUrl,omitempty"`
	BirthDate    string    `json:"birthDate,omitempty"`
	DeathDate    string    `json:"deathDate,omitempty"`
	Bio          string    `json:"bio,omitempty"`
	Greeting     string    `json:"greeting,omitempty"` // first line spoken when a call connects
	VoiceID      string    `json:"voiceId,omitempty"`
	Traits       []string  `json:"traits,omitempty"`
	VoiceSamples int       `json:"voiceSamples"`
	TextSamples  int       `json:"textSamples"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Seed provides the demo profiles the dashboard ships with.
func Seed() []Profile {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return []Profile{
		{
			ID:           "robert",
			Name:         "Grandfather Robert",
			Relationship: "Grandfather",
			AvatarURL:    "https://api.dicebear.com/7.x/avataaars/svg?seed=Robert",
			BirthDate:    "1931-04-12",
			DeathDate:    "2019-11-03",
			Bio:          "Loved fishing at Lake Wilson, baked the family apple pie and never missed a Sunday dinner.",
			Greeting:     "Hello? Is that you?",
			VoiceID:      "warm-baritone",
			Traits:       []string{"patient", "proud", "kind"},
			CreatedAt:    created,
		},
		{
			ID:           "sarah",
			Name:         "Grandma Sarah",
			Relationship: "Grandmother",
			AvatarURL:    "https://api.dicebear.com/7.x/avataaars/svg?seed=sarah",
			BirthDate:    "1935-08-22",
			DeathDate:    "2021-02-14",
			Bio:          "Kept every recipe in a tin box and asked everyone how they were doing, twice.",
			Greeting:     "Hello dear, how are you doing today?",
			VoiceID:      "gentle-alto",
			Traits:       []string{"caring", "curious"},
			CreatedAt:    created,
		},
		{
			ID:           "joe",
			Name:         "Grandpa Joe",
			Relationship: "Grandfather",
			AvatarURL:    "https://api.dicebear.com/7.x/avataaars/svg?seed=joe",
			BirthDate:    "1929-02-02",
			DeathDate:    "2015-06-30",
			Bio:          "Told the same three jokes for forty years and they were funny every time.",
			Greeting:     "Well, look who it is!",
			VoiceID:      "gravel-tenor",
			CreatedAt:    created,
		},
		{
			ID:           "uncle-robert",
			Name:         "Uncle Robert",
			Relationship: "Uncle",
			AvatarURL:    "https://api.dicebear.com/7.x/avataaars/svg?seed=robert",
			BirthDate:    "1958-10-09",
			DeathDate:    "2020-12-01",
			Bio:          "Fixed every car on the street and taught half the neighborhood to drive.",
			Greeting:     "Hey kiddo, good to hear from you.",
			VoiceID:      "easy-baritone",
			CreatedAt:    created,
		},
	}
}
