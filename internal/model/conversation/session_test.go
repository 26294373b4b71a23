package conversation

import "testing"

func TestMeetingContextMergeOverwritesFieldByField(t *testing.T) {
	prior := &MeetingContext{MeetingID: "m1", Title: "Weekly sync", Participants: []string{"Kim"}}
	merged := prior.Merge(&MeetingContext{Title: "Release review", MinutesURL: "https://minutes/1"})

	if merged.MeetingID != "m1" {
		t.Fatalf("expected meeting id preserved, got %q", merged.MeetingID)
	}
	if merged.Title != "Release review" {
		t.Fatalf("expected title overwritten, got %q", merged.Title)
	}
	if merged.MinutesURL != "https://minutes/1" {
		t.Fatalf("expected minutes url set, got %q", merged.MinutesURL)
	}
	if len(merged.Participants) != 1 || merged.Participants[0] != "Kim" {
		t.Fatalf("expected participants preserved, got %v", merged.Participants)
	}
	if prior.Title != "Weekly sync" {
		t.Fatalf("merge must not mutate the receiver")
	}
}

func TestMeetingContextMergeNil(t *testing.T) {
	var prior *MeetingContext
	if got := prior.Merge(nil); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
	if got := prior.Merge(&MeetingContext{}); got != nil {
		t.Fatalf("expected nil for empty update, got %+v", got)
	}
}

func TestParticipantNamesSplitsCommaList(t *testing.T) {
	m := &MeetingContext{Participants: []string{"Kim, Lee ,Park", "Kim"}}
	got := m.ParticipantNames()
	want := []string{"Kim", "Lee", "Park"}
	if len(got) != len(want) {
		t.Fatalf("unexpected names: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("name %d: got %q want %q", i, got[i], want[i])
		}
	}
}
