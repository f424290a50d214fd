// Package models provides data model definitions for the ThreeMeal backend.
package models

import (
	"fmt"
	"strings"
)

// FoodType classifies how a food card's item was obtained.
type FoodType string

const (
	FoodTypeTakeout  FoodType = "takeout"
	FoodTypeHomemade FoodType = "homemade"
	FoodTypeDineIn   FoodType = "dine_in"
)

// FoodTypes lists every valid FoodType.
var FoodTypes = []FoodType{FoodTypeTakeout, FoodTypeHomemade, FoodTypeDineIn}

// legacy values written by the first Android release
var foodTypeAliases = map[string]FoodType{
	"外卖":      FoodTypeTakeout,
	"自制":      FoodTypeHomemade,
	"堂食":      FoodTypeDineIn,
	"dine-in": FoodTypeDineIn,
	"dinein":  FoodTypeDineIn,
}

// ParseFoodType converts a stored or user-supplied value into a FoodType.
func ParseFoodType(s string) (FoodType, error) {
	v := strings.TrimSpace(s)
	for _, t := range FoodTypes {
		if strings.EqualFold(v, string(t)) {
			return t, nil
		}
	}
	if t, ok := foodTypeAliases[strings.ToLower(v)]; ok {
		return t, nil
	}
	return "", fmt.Errorf("unknown food type %q", s)
}

// Valid reports whether t is one of the closed set of food types.
func (t FoodType) Valid() bool {
	switch t {
	case FoodTypeTakeout, FoodTypeHomemade, FoodTypeDineIn:
		return true
	}
	return false
}

// MealType is the meal slot of a record.
type MealType string

const (
	MealBreakfast MealType = "breakfast"
	MealLunch     MealType = "lunch"
	MealDinner    MealType = "dinner"
)

// MealTypes lists every meal slot in the order of the day.
var MealTypes = []MealType{MealBreakfast, MealLunch, MealDinner}

// ParseMealType converts a stored or user-supplied value into a MealType.
func ParseMealType(s string) (MealType, error) {
	v := strings.TrimSpace(s)
	for _, t := range MealTypes {
		if strings.EqualFold(v, string(t)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown meal type %q", s)
}

// Valid reports whether t is a known meal slot.
func (t MealType) Valid() bool {
	return t.Rank() >= 0
}

// Rank returns the position of the slot within a day (breakfast first),
// or -1 for an unknown value. Stores sort meal types lexically; callers that
// display a day use Rank instead.
func (t MealType) Rank() int {
	switch t {
	case MealBreakfast:
		return 0
	case MealLunch:
		return 1
	case MealDinner:
		return 2
	}
	return -1
}

// Mood is the emotional rating attached to a meal record.
type Mood string

const (
	MoodHappy    Mood = "happy"
	MoodNormal   Mood = "normal"
	MoodTerrible Mood = "terrible"
)

// Moods lists every valid Mood.
var Moods = []Mood{MoodHappy, MoodNormal, MoodTerrible}

var moodAliases = map[string]Mood{
	"开心": MoodHappy,
	"一般": MoodNormal,
	"糟糕": MoodTerrible,
}

// ParseMood converts a stored or user-supplied value into a Mood.
func ParseMood(s string) (Mood, error) {
	v := strings.TrimSpace(s)
	for _, m := range Moods {
		if strings.EqualFold(v, string(m)) {
			return m, nil
		}
	}
	if m, ok := moodAliases[v]; ok {
		return m, nil
	}
	return "", fmt.Errorf("unknown mood %q", s)
}

// Valid reports whether m is one of the closed set of moods.
func (m Mood) Valid() bool {
	switch m {
	case MoodHappy, MoodNormal, MoodTerrible:
		return true
	}
	return false
}
