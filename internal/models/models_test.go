// Package models tests for data model definitions.
package models

import (
	"encoding/json"
	"testing"
	"time"
)

// =====================================================
// Enum Tests
// =====================================================

// TestParseFoodType verifies canonical values and legacy aliases.
func TestParseFoodType(t *testing.T) {
	tests := []struct {
		in      string
		want    FoodType
		wantErr bool
	}{
		{"takeout", FoodTypeTakeout, false},
		{"Homemade", FoodTypeHomemade, false},
		{"dine_in", FoodTypeDineIn, false},
		{"dine-in", FoodTypeDineIn, false},
		{"外卖", FoodTypeTakeout, false},
		{"自制", FoodTypeHomemade, false},
		{"堂食", FoodTypeDineIn, false},
		{"buffet", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFoodType(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFoodType(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseFoodType(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// TestParseMood verifies canonical values and legacy aliases.
func TestParseMood(t *testing.T) {
	for in, want := range map[string]Mood{
		"happy": MoodHappy, "NORMAL": MoodNormal, "terrible": MoodTerrible,
		"开心": MoodHappy, "一般": MoodNormal, "糟糕": MoodTerrible,
	} {
		got, err := ParseMood(in)
		if err != nil || got != want {
			t.Errorf("ParseMood(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseMood("ecstatic"); err == nil {
		t.Error("ParseMood(ecstatic) should fail")
	}
}

// TestMealType_Rank verifies the in-day order differs from lexical order.
func TestMealType_Rank(t *testing.T) {
	if !(MealBreakfast.Rank() < MealLunch.Rank() && MealLunch.Rank() < MealDinner.Rank()) {
		t.Error("Rank() should order breakfast < lunch < dinner")
	}
	if !(string(MealDinner) < string(MealLunch)) {
		t.Error("lexical order should place dinner before lunch")
	}
	if MealType("brunch").Valid() {
		t.Error("brunch should not be a valid meal type")
	}
	if _, err := ParseMealType(" Lunch "); err != nil {
		t.Errorf("ParseMealType() error = %v", err)
	}
}

// =====================================================
// Date Tests
// =====================================================

// TestParseDate verifies only fixed-width calendar dates are accepted.
func TestParseDate(t *testing.T) {
	valid := []string{"2024-01-15", "2024-02-29", "1999-12-31"}
	for _, s := range valid {
		if _, err := ParseDate(s); err != nil {
			t.Errorf("ParseDate(%q) error = %v", s, err)
		}
	}

	invalid := []string{"", "2024-1-5", "2024-01-5", "2023-02-29", "2024-13-01", "2024/01/15", "24-01-15", "2024-01-15T00:00:00Z"}
	for _, s := range invalid {
		if _, err := ParseDate(s); err == nil {
			t.Errorf("ParseDate(%q) should fail", s)
		}
	}
}

// TestDate_AddDays verifies day arithmetic across month boundaries.
func TestDate_AddDays(t *testing.T) {
	d := MustParseDate("2024-02-28")
	if got := d.AddDays(1); got != "2024-02-29" {
		t.Errorf("AddDays(1) = %s", got)
	}
	if got := d.AddDays(2); got != "2024-03-01" {
		t.Errorf("AddDays(2) = %s", got)
	}
	if got := d.AddDays(-28); got != "2024-01-31" {
		t.Errorf("AddDays(-28) = %s", got)
	}
}

// TestMonthRange verifies first and last days.
func TestMonthRange(t *testing.T) {
	first, last := MonthRange(2024, time.February)
	if first != "2024-02-01" || last != "2024-02-29" {
		t.Errorf("MonthRange() = %s, %s", first, last)
	}
}

// TestDateOf verifies formatting of a time.
func TestDateOf(t *testing.T) {
	tm := time.Date(2024, 1, 5, 23, 59, 0, 0, time.UTC)
	if got := DateOf(tm); got != "2024-01-05" {
		t.Errorf("DateOf() = %s", got)
	}
}

// =====================================================
// FoodCardIDs Tests
// =====================================================

// TestFoodCardIDs_Encode verifies the on-disk format.
func TestFoodCardIDs_Encode(t *testing.T) {
	tests := []struct {
		ids  FoodCardIDs
		want string
	}{
		{nil, "[]"},
		{FoodCardIDs{}, "[]"},
		{FoodCardIDs{1}, "[1]"},
		{FoodCardIDs{1, 2, 3}, "[1,2,3]"},
		{FoodCardIDs{3, 1, 3}, "[3,1,3]"},
	}
	for _, tt := range tests {
		if got := tt.ids.Encode(); got != tt.want {
			t.Errorf("Encode(%v) = %q, want %q", []int64(tt.ids), got, tt.want)
		}
	}
}

// TestDecodeFoodCardIDs verifies accepted encodings preserve order.
func TestDecodeFoodCardIDs(t *testing.T) {
	tests := []struct {
		in      string
		want    []int64
		wantErr bool
	}{
		{"[1,2,3]", []int64{1, 2, 3}, false},
		{"[ 3, 1 ]", []int64{3, 1}, false},
		{"[]", []int64{}, false},
		{"", []int64{}, false},
		{"1,2,3", []int64{1, 2, 3}, false},
		{"[1,\"a\"]", nil, true},
		{"1,,2", nil, true},
	}
	for _, tt := range tests {
		got, err := DecodeFoodCardIDs(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("DecodeFoodCardIDs(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if tt.wantErr {
			continue
		}
		if len(got) != len(tt.want) {
			t.Errorf("DecodeFoodCardIDs(%q) = %v, want %v", tt.in, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("DecodeFoodCardIDs(%q) = %v, want %v", tt.in, got, tt.want)
				break
			}
		}
	}
}

// TestFoodCardIDs_Scan verifies driver value handling.
func TestFoodCardIDs_Scan(t *testing.T) {
	var ids FoodCardIDs
	if err := ids.Scan([]byte("[4,5]")); err != nil {
		t.Fatalf("Scan([]byte) error = %v", err)
	}
	if len(ids) != 2 || ids[0] != 4 || ids[1] != 5 {
		t.Errorf("Scan([]byte) = %v", ids)
	}
	if err := ids.Scan(nil); err != nil || len(ids) != 0 {
		t.Errorf("Scan(nil) = %v, %v", ids, err)
	}
	if err := ids.Scan(42); err == nil {
		t.Error("Scan(int) should fail")
	}
	v, _ := FoodCardIDs{7}.Value()
	if v != "[7]" {
		t.Errorf("Value() = %v", v)
	}
}

// =====================================================
// Entity Tests
// =====================================================

// TestFoodCard_Validate verifies required fields.
func TestFoodCard_Validate(t *testing.T) {
	base := FoodCard{Name: "Beef noodles", ImageRef: "images/ab/abc.jpg", Price: 25, Type: FoodTypeDineIn}
	if err := base.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	cases := map[string]func(c *FoodCard){
		"empty name":    func(c *FoodCard) { c.Name = "  " },
		"empty image":   func(c *FoodCard) { c.ImageRef = "" },
		"negative":      func(c *FoodCard) { c.Price = -1 },
		"unknown type":  func(c *FoodCard) { c.Type = "buffet" },
		"legacy string": func(c *FoodCard) { c.Type = "堂食" },
	}
	for name, mutate := range cases {
		c := base
		mutate(&c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: Validate() should fail", name)
		}
	}
}

// TestMealRecord_Validate verifies required fields.
func TestMealRecord_Validate(t *testing.T) {
	r := MealRecord{Date: "2024-01-15", MealType: MealLunch, Mood: MoodHappy, FoodCardIDs: FoodCardIDs{1, 2}}
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	bad := r
	bad.Date = "2024-1-15"
	if bad.Validate() == nil {
		t.Error("invalid date should fail")
	}
	bad = r
	bad.FoodCardIDs = FoodCardIDs{0}
	if bad.Validate() == nil {
		t.Error("zero food card id should fail")
	}
	bad = r
	bad.Mood = ""
	if bad.Validate() == nil {
		t.Error("empty mood should fail")
	}
}

// TestStamp_keepsCreatedAt verifies an imported CreatedAt survives stamping.
func TestStamp_keepsCreatedAt(t *testing.T) {
	c := FoodCard{CreatedAt: 1000}
	c.Stamp(5000)
	if c.CreatedAt != 1000 || c.UpdatedAt != 5000 {
		t.Errorf("Stamp() = %d/%d", c.CreatedAt, c.UpdatedAt)
	}

	var r MealRecord
	r.Stamp(5000)
	if r.CreatedAt != 5000 || r.UpdatedAt != 5000 {
		t.Errorf("Stamp() = %d/%d", r.CreatedAt, r.UpdatedAt)
	}
}

// TestSortByDayOrder verifies display ordering.
func TestSortByDayOrder(t *testing.T) {
	records := []*MealRecord{
		{Date: "2024-01-15", MealType: MealDinner},
		{Date: "2024-01-15", MealType: MealBreakfast},
		{Date: "2024-01-16", MealType: MealLunch},
		{Date: "2024-01-15", MealType: MealLunch},
	}
	SortByDayOrder(records)

	want := []string{"2024-01-16/lunch", "2024-01-15/breakfast", "2024-01-15/lunch", "2024-01-15/dinner"}
	for i, r := range records {
		if r.Slot() != want[i] {
			t.Errorf("records[%d] = %s, want %s", i, r.Slot(), want[i])
		}
	}
}

// TestMealRecord_JSON verifies the wire shape used by export archives.
func TestMealRecord_JSON(t *testing.T) {
	r := MealRecord{ID: 3, Date: "2024-01-14", MealType: MealDinner, FoodCardIDs: FoodCardIDs{1, 2, 3}, Mood: MoodHappy}
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if _, ok := m["note"]; ok {
		t.Error("empty note should be omitted")
	}
	ids, ok := m["food_card_ids"].([]interface{})
	if !ok || len(ids) != 3 {
		t.Errorf("food_card_ids = %v", m["food_card_ids"])
	}
}

// TestTableNames verifies table names.
func TestTableNames(t *testing.T) {
	if (FoodCard{}).TableName() != "food_cards" {
		t.Error("FoodCard.TableName() mismatch")
	}
	if (MealRecord{}).TableName() != "meal_records" {
		t.Error("MealRecord.TableName() mismatch")
	}
}
