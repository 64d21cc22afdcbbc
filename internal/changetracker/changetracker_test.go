package changetracker

import "testing"

func TestCheckForExternalChangeNoSnapshotYet(t *testing.T) {
	tr := New()
	if _, changed := tr.CheckForExternalChange("f.go", "content", "utf-8", 1); changed {
		t.Error("CheckForExternalChange() on a never-observed path should report no change")
	}
}

func TestCheckForExternalChangeDetectsDivergence(t *testing.T) {
	tr := New()
	tr.RecordSnapshot("f.go", "original", "utf-8", 1)

	ev, changed := tr.CheckForExternalChange("f.go", "modified by someone else", "utf-8", 1)
	if !changed {
		t.Fatal("CheckForExternalChange() should detect a content divergence")
	}
	if ev.Path != "f.go" {
		t.Errorf("Event.Path = %q, want f.go", ev.Path)
	}
	if ev.Previous.Content != "original" {
		t.Errorf("Event.Previous.Content = %q, want original", ev.Previous.Content)
	}
}

func TestCheckForExternalChangeSuppressedByTaskOwnWrite(t *testing.T) {
	tr := New()
	tr.RecordSnapshot("f.go", "original", "utf-8", 1)
	tr.MarkTouchedByTransaction("f.go")

	if _, changed := tr.CheckForExternalChange("f.go", "new content", "utf-8", 1); changed {
		t.Error("CheckForExternalChange() should not report a change the task's own transaction made")
	}
}

func TestRecordSnapshotClearsTouchedFlag(t *testing.T) {
	tr := New()
	tr.RecordSnapshot("f.go", "v1", "utf-8", 1)
	tr.MarkTouchedByTransaction("f.go")

	// A fresh RecordSnapshot (e.g. after the task's own commit) should clear
	// the touched flag, so a later divergence is detected again.
	tr.RecordSnapshot("f.go", "v2", "utf-8", 1)

	ev, changed := tr.CheckForExternalChange("f.go", "v3 from elsewhere", "utf-8", 1)
	if !changed {
		t.Fatal("CheckForExternalChange() after a fresh snapshot should detect the next divergence")
	}
	if ev.Previous.Content != "v2" {
		t.Errorf("Event.Previous.Content = %q, want v2", ev.Previous.Content)
	}
}

func TestForget(t *testing.T) {
	tr := New()
	tr.RecordSnapshot("f.go", "v1", "utf-8", 1)
	tr.Forget("f.go")

	if _, ok := tr.Snapshot("f.go"); ok {
		t.Error("Snapshot() after Forget() should report not found")
	}
	if _, changed := tr.CheckForExternalChange("f.go", "anything", "utf-8", 1); changed {
		t.Error("CheckForExternalChange() after Forget() should report no change (no baseline)")
	}
}

func TestCRC32CStable(t *testing.T) {
	a := CRC32C([]byte("hello"))
	b := CRC32C([]byte("hello"))
	if a != b {
		t.Error("CRC32C not stable across calls for identical input")
	}
	if CRC32C([]byte("hello")) == CRC32C([]byte("world")) {
		t.Error("CRC32C collided for distinct input (extremely unlikely, check computation)")
	}
}
