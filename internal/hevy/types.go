package hevy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Workout is one post from the discovery feed or a user's workout page
type Workout struct {
	ID       string        `json:"id"`
	Index    FeedIndex     `json:"index"`
	EndTime  Epoch         `json:"end_time"`
	Likes    []Interaction `json:"likes"`
	Comments []Interaction `json:"comments"`
}

// Interaction is a like or comment embedded in a feed workout
type Interaction struct {
	Username string `json:"username"`
}

// FeedIndex is the opaque pagination cursor of the discovery feed. The API
// sends it as a number, but strings are accepted too.
type FeedIndex string

// IsZero reports whether the cursor cannot be used to fetch another page
func (f FeedIndex) IsZero() bool {
	return f == "" || f == "0"
}

func (f *FeedIndex) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FeedIndex(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("feed index: %w", err)
	}
	*f = FeedIndex(n.String())
	return nil
}

// Epoch is a unix timestamp in seconds, tolerant of fractional values
type Epoch int64

// Time converts the timestamp to a time.Time
func (e Epoch) Time() time.Time {
	return time.Unix(int64(e), 0)
}

func (e *Epoch) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*e = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(s)
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("epoch: %w", err)
	}
	*e = Epoch(math.Floor(f))
	return nil
}

type workoutsPage struct {
	Workouts []Workout `json:"workouts"`
}

type account struct {
	Username string `json:"username"`
}

type apiError struct {
	Error string `json:"error"`
}
