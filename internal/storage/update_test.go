package storage

import (
	"slices"
	"testing"
)

func TestUpdateApply(t *testing.T) {
	original := Fields{
		"name":     "bob",
		"partners": []any{"alice", "carol", "alice"},
	}

	u := Update{
		Set:         Fields{"name": "Bob", "token": nil},
		ArrayUnion:  map[string][]string{"partners": {"dave", "carol", "dave"}},
		ArrayRemove: map[string][]string{"partners": {"alice"}},
	}
	got, err := u.Apply(original)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if got["name"] != "Bob" {
		t.Errorf("name = %v, want Bob", got["name"])
	}
	if v, ok := got["token"]; !ok || v != nil {
		t.Errorf("token = %v (present %v), want explicit nil", v, ok)
	}
	// Union runs before remove; every occurrence of a removed value goes.
	if partners := got["partners"].([]string); !slices.Equal(partners, []string{"carol", "dave"}) {
		t.Errorf("partners = %v, want [carol dave]", partners)
	}
	if original["name"] != "bob" || len(original["partners"].([]any)) != 3 {
		t.Errorf("Apply mutated its input: %v", original)
	}
}

func TestUpdateApply_MissingArray(t *testing.T) {
	got, err := AddToArray("partners", "alice").Apply(Fields{})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if partners := got["partners"].([]string); !slices.Equal(partners, []string{"alice"}) {
		t.Errorf("partners = %v, want [alice]", partners)
	}

	got, err = RemoveFromArray("partners", "alice").Apply(Fields{})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if partners := got["partners"].([]string); len(partners) != 0 {
		t.Errorf("partners = %v, want empty", partners)
	}
}

func TestUpdateApply_NotAnArray(t *testing.T) {
	if _, err := RemoveFromArray("partners", "alice").Apply(Fields{"partners": "alice"}); err == nil {
		t.Error("expected error for non-array field")
	}
	if _, err := AddToArray("partners", "alice").Apply(Fields{"partners": []any{1}}); err == nil {
		t.Error("expected error for non-string element")
	}
}

func TestUpdateIsEmpty(t *testing.T) {
	if !(Update{}).IsEmpty() {
		t.Error("zero Update should be empty")
	}
	if SetFields(Fields{"a": 1}).IsEmpty() {
		t.Error("SetFields should not be empty")
	}
}

func TestQueryValidate(t *testing.T) {
	tests := []struct {
		name    string
		query   Query
		wantErr bool
	}{
		{"valid", Where(CollectionUsers, "partnerUids", "a").And("email", "b").WithLimit(1), false},
		{"no collection", Query{}, true},
		{"dotted field", Where(CollectionUsers, "a.b", 1), true},
		{"quote in field", Where(CollectionUsers, "a'", 1), true},
		{"negative limit", Where(CollectionUsers, "a", 1).WithLimit(-1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.query.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestQueryAndDoesNotAlias(t *testing.T) {
	base := Where(CollectionTransactions, "senderUid", "a")
	base.Where = append(make([]Filter, 0, 4), base.Where...)
	q1 := base.And("receiverUid", "b")
	q2 := base.And("receiverUid", "c")
	if q1.Where[1].Value != "b" || q2.Where[1].Value != "c" {
		t.Errorf("And aliased filters: %v / %v", q1.Where, q2.Where)
	}
}
