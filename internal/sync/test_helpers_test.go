package sync

import "testing"

func mustUserID(t *testing.T, value string) UserID {
	t.Helper()
	id, err := NewUserID(value)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

func mustThreadID(t *testing.T, value string) ThreadID {
	t.Helper()
	id, err := NewThreadID(value)
	if err != nil {
		t.Fatalf("unexpected thread id error: %v", err)
	}
	return id
}

func mustDataType(t *testing.T, value string) DataType {
	t.Helper()
	dataType, err := ParseDataType(value)
	if err != nil {
		t.Fatalf("unexpected data type error: %v", err)
	}
	return dataType
}
