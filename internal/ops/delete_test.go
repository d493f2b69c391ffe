package ops

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDeleteFile(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "f")
	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Delete(target, root); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Lstat(target); !os.IsNotExist(err) {
		t.Error("file still exists")
	}
}

func TestDeleteDirRecursive(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "sub")
	if err := os.MkdirAll(filepath.Join(sub, "deep"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "deep", "f"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Delete(sub, root); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Lstat(sub); !os.IsNotExist(err) {
		t.Error("directory still exists")
	}
}

func TestDeleteRefusesOutsideRoot(t *testing.T) {
	root := t.TempDir()
	outside := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(outside, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Delete(outside, root); err == nil {
		t.Error("deleting outside the scan root must fail")
	}
	if _, err := os.Lstat(outside); err != nil {
		t.Error("outside file was touched")
	}
}

func TestDeleteRefusesRoot(t *testing.T) {
	root := t.TempDir()
	if err := Delete(root, root); err == nil {
		t.Error("deleting the scan root itself must fail")
	}
}

func TestDeleteSymlinkNotFollowed(t *testing.T) {
	root := t.TempDir()
	victim := filepath.Join(root, "victim")
	if err := os.Mkdir(victim, 0o755); err != nil {
		t.Fatal(err)
	}
	keep := filepath.Join(victim, "keep")
	if err := os.WriteFile(keep, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(root, "link")
	if err := os.Symlink(victim, link); err != nil {
		t.Fatal(err)
	}

	if err := Delete(link, root); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Lstat(link); !os.IsNotExist(err) {
		t.Error("symlink still exists")
	}
	if _, err := os.Lstat(keep); err != nil {
		t.Error("symlink target contents were deleted")
	}
}
