package plugin

import (
	"strings"
	"testing"

	"github.com/dpmgo/dpmgo/pkg/authn"
)

func init() {
	RegisterFactory(Factory{
		ID:   "test-uppercase-decorator",
		Kind: KindAuthn,
		Configure: func(key, value string) bool {
			return key == "TestKnob"
		},
		NewAuthn: func(next authn.Store) authn.Store { return next },
	})
}

func TestLoadConfigDispatchesKeysAndLoadsPlugin(t *testing.T) {
	mgr := NewManager()
	cfg := "LoadPlugin test-uppercase-decorator /fake/path\nTestKnob value1\nUnknownThing 42\n"
	if err := mgr.LoadConfig(strings.NewReader(cfg)); err != nil {
		t.Fatal(err)
	}
	chain := mgr.Chain(KindAuthn)
	if len(chain) != 1 || chain[0].ID != "test-uppercase-decorator" {
		t.Fatalf("expected one loaded authn factory, got %+v", chain)
	}
}

func TestLoadConfigUnknownPluginIDFails(t *testing.T) {
	mgr := NewManager()
	if err := mgr.LoadConfig(strings.NewReader("LoadPlugin nope /no/such/path\n")); err == nil {
		t.Fatal("expected an error for an unregistered plugin id")
	}
}

func TestRegisterFactoryPanicsOnDuplicate(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic on duplicate factory id")
		}
	}()
	RegisterFactory(Factory{ID: "test-uppercase-decorator", Kind: KindAuthn})
}
