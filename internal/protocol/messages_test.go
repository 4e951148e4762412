package protocol

import "testing"

func TestProgressSubject(t *testing.T) {
	if got := ProgressSubject("task-9"); got != "jobs.progress.task-9" {
		t.Fatalf("subject = %q", got)
	}
}

func TestValidKind(t *testing.T) {
	for _, kind := range []string{KindRead, KindSummarise, KindPodcast} {
		if !ValidKind(kind) {
			t.Fatalf("kind %q should be valid", kind)
		}
	}
	if ValidKind("transcribe") {
		t.Fatal("unknown kind accepted")
	}
}
