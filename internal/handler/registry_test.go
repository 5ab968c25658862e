package handler_test

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/example/sms-router/internal/handler"
)

type namedHandler struct {
	handler.Base
	name string
}

func (h *namedHandler) Name() string { return h.name }

func factoryFor(name string) handler.Factory {
	return func(zerolog.Logger) (handler.Handler, error) {
		return &namedHandler{name: name}, nil
	}
}

func TestRegisterAndInstantiate(t *testing.T) {
	registry := handler.NewRegistry(zerolog.New(io.Discard))
	if err := registry.Register("echo", factoryFor("echo")); err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}

	h, err := registry.Instantiate("echo")
	if err != nil {
		t.Fatalf("unexpected instantiate error: %v", err)
	}
	if h.Name() != "echo" {
		t.Fatalf("expected echo handler, got %q", h.Name())
	}
}

func TestInstantiateIsCaseInsensitive(t *testing.T) {
	registry := handler.NewRegistry(zerolog.New(io.Discard))
	if err := registry.Register("Echo", factoryFor("echo")); err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}
	if _, err := registry.Instantiate("  ECHO "); err != nil {
		t.Fatalf("expected case-insensitive lookup, got %v", err)
	}
}

func TestRegisterDuplicateFails(t *testing.T) {
	registry := handler.NewRegistry(zerolog.New(io.Discard))
	if err := registry.Register("echo", factoryFor("echo")); err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}
	if err := registry.Register("echo", factoryFor("echo")); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestRegisterEmptyNameFails(t *testing.T) {
	registry := handler.NewRegistry(zerolog.New(io.Discard))
	if err := registry.Register("  ", factoryFor("blank")); err == nil {
		t.Fatalf("expected blank name to fail")
	}
}

func TestInstantiateUnknownFails(t *testing.T) {
	registry := handler.NewRegistry(zerolog.New(io.Discard))
	if _, err := registry.Instantiate("missing"); err == nil {
		t.Fatalf("expected unknown handler to fail")
	} else if !strings.Contains(err.Error(), "missing") {
		t.Fatalf("expected error to name the handler, got %v", err)
	}
}

func TestInstantiateFactoryErrorPropagates(t *testing.T) {
	registry := handler.NewRegistry(zerolog.New(io.Discard))
	boom := errors.New("no credentials")
	if err := registry.Register("broken", func(zerolog.Logger) (handler.Handler, error) {
		return nil, boom
	}); err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}

	if _, err := registry.Instantiate("broken"); !errors.Is(err, boom) {
		t.Fatalf("expected factory error to propagate, got %v", err)
	}
}

func TestNamesSorted(t *testing.T) {
	registry := handler.NewRegistry(zerolog.New(io.Discard))
	for _, name := range []string{"zulu", "alpha", "mike"} {
		if err := registry.Register(name, factoryFor(name)); err != nil {
			t.Fatalf("unexpected register error: %v", err)
		}
	}

	names := registry.Names()
	want := []string{"alpha", "mike", "zulu"}
	if len(names) != len(want) {
		t.Fatalf("expected %d names, got %v", len(want), names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected sorted names %v, got %v", want, names)
		}
	}
}
