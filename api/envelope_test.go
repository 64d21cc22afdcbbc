package api

import "testing"

func TestTextBuildsSuccessEnvelope(t *testing.T) {
	e := Text("hello")
	if e.IsError {
		t.Error("Text() envelope should not be an error")
	}
	if len(e.Content) != 1 || e.Content[0].Text != "hello" || e.Content[0].Type != "text" {
		t.Errorf("Text() envelope = %+v", e)
	}
}

func TestErrorBuildsErrorEnvelope(t *testing.T) {
	e := Error("failed")
	if !e.IsError {
		t.Error("Error() envelope should be an error")
	}
	if len(e.Content) != 1 || e.Content[0].Text != "failed" {
		t.Errorf("Error() envelope = %+v", e)
	}
}
