package storage

import (
	"testing"

	"github.com/chazu/bobbin/pkg/bytecode"
)

func TestMemoryStorageBasics(t *testing.T) {
	m := NewMemoryStorage()

	if m.Contains("gold") {
		t.Errorf("Contains on empty storage = true")
	}
	if _, ok := m.Get("gold"); ok {
		t.Errorf("Get on empty storage = ok")
	}

	m.Set("gold", bytecode.IntValue(10))
	got, ok := m.Get("gold")
	if !ok || !got.Equal(bytecode.IntValue(10)) {
		t.Errorf("Get = %v, %v, want 10, true", got, ok)
	}
	if !m.Contains("gold") {
		t.Errorf("Contains = false after Set")
	}

	m.Set("gold", bytecode.IntValue(20))
	got, _ = m.Get("gold")
	if !got.Equal(bytecode.IntValue(20)) {
		t.Errorf("Get after overwrite = %v, want 20", got)
	}
}

func TestMemoryStorageInitializeIfAbsent(t *testing.T) {
	m := NewMemoryStorage()

	m.InitializeIfAbsent("gold", bytecode.IntValue(10))
	got, _ := m.Get("gold")
	if !got.Equal(bytecode.IntValue(10)) {
		t.Errorf("Get = %v, want 10", got)
	}

	m.InitializeIfAbsent("gold", bytecode.IntValue(99))
	got, _ = m.Get("gold")
	if !got.Equal(bytecode.IntValue(10)) {
		t.Errorf("InitializeIfAbsent clobbered: %v, want 10", got)
	}
}

func TestMemoryStorageNames(t *testing.T) {
	m := NewMemoryStorage()
	m.Set("b", bytecode.IntValue(2))
	m.Set("a", bytecode.IntValue(1))

	names := m.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("Names = %v, want [a b]", names)
	}
}

func TestMapHostState(t *testing.T) {
	h := NewMapHostState()

	if _, ok := h.Lookup("hero"); ok {
		t.Errorf("Lookup on empty host = ok")
	}

	h.Set("hero", bytecode.StringValue("Ida"))
	got, ok := h.Lookup("hero")
	if !ok || !got.Equal(bytecode.StringValue("Ida")) {
		t.Errorf("Lookup = %v, %v, want Ida, true", got, ok)
	}

	h.Delete("hero")
	if _, ok := h.Lookup("hero"); ok {
		t.Errorf("Lookup after Delete = ok")
	}
}

func TestInterfacesSatisfied(t *testing.T) {
	var _ bytecode.VariableStorage = NewMemoryStorage()
	var _ bytecode.HostState = NewMapHostState()
}
