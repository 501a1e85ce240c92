package models

// ChallengeID names one liveness action the user is asked to perform.
type ChallengeID string

const (
	ChallengeLookStraight ChallengeID = "look_straight"
	ChallengeBlink        ChallengeID = "blink"
	ChallengeSmile        ChallengeID = "smile"
	ChallengeTurnLeft     ChallengeID = "turn_left"
	ChallengeTurnRight    ChallengeID = "turn_right"
)

// ChallengeCatalog is the fixed set challenges are drawn from, in display order.
var ChallengeCatalog = []ChallengeID{
	ChallengeLookStraight,
	ChallengeBlink,
	ChallengeSmile,
	ChallengeTurnLeft,
	ChallengeTurnRight,
}

func (c ChallengeID) IsValid() bool {
	for _, known := range ChallengeCatalog {
		if c == known {
			return true
		}
	}
	return false
}
