package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()
	test.That(t, c.Len(), test.ShouldEqual, 58)

	label, ok := c.Lookup(1)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, label, test.ShouldEqual, "P.102")

	label, ok = c.Lookup(57)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, label, test.ShouldEqual, "W.245a")

	_, ok = c.Lookup(99)
	test.That(t, ok, test.ShouldBeFalse)

	ids := c.IDs()
	test.That(t, ids[0], test.ShouldEqual, 0)
	test.That(t, ids[len(ids)-1], test.ShouldEqual, 57)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "classes.yaml")
	err := os.WriteFile(path, []byte("classes:\n  1: P.102\n  7: W.208\n"), 0o644)
	test.That(t, err, test.ShouldBeNil)

	c, err := Load(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, c.Len(), test.ShouldEqual, 2)
	label, _ := c.Lookup(7)
	test.That(t, label, test.ShouldEqual, "W.208")
}

func TestLoadRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	test.That(t, errors.Is(err, os.ErrNotExist), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "read catalog")

	empty := filepath.Join(dir, "empty.yaml")
	test.That(t, os.WriteFile(empty, []byte("classes: {}\n"), 0o644), test.ShouldBeNil)
	_, err = Load(empty)
	test.That(t, err, test.ShouldNotBeNil)

	negative := filepath.Join(dir, "negative.yaml")
	test.That(t, os.WriteFile(negative, []byte("classes:\n  -1: P.102\n"), 0o644), test.ShouldBeNil)
	_, err = Load(negative)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "class id -1")

	garbled := filepath.Join(dir, "garbled.yaml")
	test.That(t, os.WriteFile(garbled, []byte("classes: [unterminated\n"), 0o644), test.ShouldBeNil)
	_, err = Load(garbled)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "parse catalog")
}

func TestNewCopiesMapping(t *testing.T) {
	m := map[int]string{1: "P.102"}
	c, err := New(m)
	test.That(t, err, test.ShouldBeNil)
	m[1] = "changed"
	label, _ := c.Lookup(1)
	test.That(t, label, test.ShouldEqual, "P.102")

	def, err := LoadOrDefault("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, def.Len(), test.ShouldEqual, 58)
}
