package media

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name         string
		fileID       string
		mediaType    string
		mimeType     string
		originalName string
		want         string
	}{
		{name: "photo by type", fileID: "111", mediaType: TypePhoto, want: "111.jpg"},
		{name: "mime wins over type", fileID: "222", mediaType: TypeDocument, mimeType: "application/pdf", want: "222.pdf"},
		{name: "document with name", fileID: "333", mediaType: TypeDocument, originalName: "report.xlsx", want: "333_report.xlsx"},
		{name: "name with path separators", fileID: "444", mediaType: TypeDocument, originalName: "a/b\\c.txt", want: "444_a_b_c.txt"},
		{name: "voice fallback", fileID: "555", mediaType: TypeVoice, want: "555.ogg"},
		{name: "unknown stays bare", fileID: "666", mediaType: TypeContact, want: "666"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := FileName(tc.fileID, tc.mediaType, tc.mimeType, tc.originalName)
			if got != tc.want {
				t.Errorf("FileName() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestAllowsSize(t *testing.T) {
	t.Parallel()

	limited := NewStore(t.TempDir(), false, 10)
	if !limited.AllowsSize(10 * 1024 * 1024) {
		t.Error("size at the limit must pass")
	}
	if limited.AllowsSize(10*1024*1024 + 1) {
		t.Error("size over the limit must be rejected")
	}

	unlimited := NewStore(t.TempDir(), false, 0)
	if !unlimited.AllowsSize(1 << 40) {
		t.Error("zero limit must disable the guard")
	}
}

func TestPrepareAndCommitPlain(t *testing.T) {
	t.Parallel()
	s := NewStore(t.TempDir(), false, 0)

	dest, exists, err := s.Prepare(-100, "1.jpg")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if exists {
		t.Fatal("fresh store must not report existing file")
	}
	if err = os.WriteFile(dest, []byte("payload"), 0o600); err != nil {
		t.Fatal(err)
	}

	rel, err := s.Commit(-100, "1.jpg")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if rel != "-100/1.jpg" {
		t.Errorf("rel = %q, want -100/1.jpg", rel)
	}
	if size, ok := s.Stat(rel); !ok || size != 7 {
		t.Errorf("Stat(%q) = (%d, %v)", rel, size, ok)
	}

	// Повторный Prepare видит готовый файл.
	_, exists, err = s.Prepare(-100, "1.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Error("second Prepare must report existing file")
	}
}

func TestDedupSharedPool(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	s := NewStore(root, true, 0)

	dest, exists, err := s.Prepare(-100, "42.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Fatal("pool must be empty")
	}
	if filepath.Dir(dest) != filepath.Join(root, "_shared") {
		t.Fatalf("dedup download target must be the shared pool, got %s", dest)
	}
	if err = os.WriteFile(dest, []byte("bytes"), 0o600); err != nil {
		t.Fatal(err)
	}

	relA, err := s.Commit(-100, "42.jpg")
	if err != nil {
		t.Fatal(err)
	}

	// Второй чат: скачивание не нужно, добавляется только ссылка.
	_, exists, err = s.Prepare(-200, "42.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Error("pool copy must be detected")
	}
	relB, err := s.Commit(-200, "42.jpg")
	if err != nil {
		t.Fatal(err)
	}

	for _, rel := range []string{relA, relB} {
		data, readErr := os.ReadFile(s.Resolve(rel))
		if readErr != nil {
			t.Fatalf("read %s: %v", rel, readErr)
		}
		if string(data) != "bytes" {
			t.Errorf("content of %s = %q", rel, data)
		}
	}

	link := filepath.Join(root, "-100", "42.jpg")
	if info, lerr := os.Lstat(link); lerr != nil || info.Mode()&os.ModeSymlink == 0 {
		t.Errorf("chat entry %s must be a symlink", link)
	}
}

func TestPrepareIgnoresEmptyFile(t *testing.T) {
	t.Parallel()
	s := NewStore(t.TempDir(), false, 0)

	dest, _, err := s.Prepare(-100, "7.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if err = os.WriteFile(dest, []byte("payload"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err = s.Commit(-100, "7.jpg"); err != nil {
		t.Fatal(err)
	}

	// Файл обнулился (оборванное соединение, сбой диска): содержимым он
	// больше не считается, скачивание должно повториться поверх.
	if err = os.Truncate(dest, 0); err != nil {
		t.Fatal(err)
	}
	_, exists, err := s.Prepare(-100, "7.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Error("empty file must not count as downloaded content")
	}
}

func TestDiscardPlain(t *testing.T) {
	t.Parallel()
	s := NewStore(t.TempDir(), false, 0)

	dest, _, err := s.Prepare(-100, "9.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if err = os.WriteFile(dest, []byte("broken"), 0o600); err != nil {
		t.Fatal(err)
	}
	rel, err := s.Commit(-100, "9.jpg")
	if err != nil {
		t.Fatal(err)
	}

	s.Discard(rel)
	if _, ok := s.Stat(rel); ok {
		t.Error("discarded file must be gone")
	}
	if _, exists, _ := s.Prepare(-100, "9.jpg"); exists {
		t.Error("Prepare after Discard must request a download")
	}

	// Повторный Discard по отсутствующему пути безвреден.
	s.Discard(rel)
}

func TestDiscardSharedPool(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	s := NewStore(root, true, 0)

	dest, _, err := s.Prepare(-100, "11.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if err = os.WriteFile(dest, []byte("broken"), 0o600); err != nil {
		t.Fatal(err)
	}
	rel, err := s.Commit(-100, "11.jpg")
	if err != nil {
		t.Fatal(err)
	}

	s.Discard(rel)
	if _, lerr := os.Lstat(filepath.Join(root, "-100", "11.jpg")); !os.IsNotExist(lerr) {
		t.Error("chat entry must be removed")
	}
	if _, lerr := os.Lstat(filepath.Join(root, "_shared", "11.jpg")); !os.IsNotExist(lerr) {
		t.Error("shared pool copy must be removed")
	}
	if _, exists, _ := s.Prepare(-100, "11.jpg"); exists {
		t.Error("Prepare after Discard must request a download")
	}
}

func TestSizeMatches(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name             string
		actual, expected int64
		want             bool
	}{
		{name: "exact", actual: 1000, expected: 1000, want: true},
		{name: "within one percent", actual: 1009, expected: 1000, want: true},
		{name: "over one percent", actual: 1011, expected: 1000, want: false},
		{name: "unknown expected", actual: 500, expected: 0, want: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := SizeMatches(tc.actual, tc.expected); got != tc.want {
				t.Errorf("SizeMatches(%d, %d) = %v, want %v", tc.actual, tc.expected, got, tc.want)
			}
		})
	}
}

func TestResolveAvatar(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	s := NewStore(root, false, 0)

	if _, ok := s.ResolveAvatar(AvatarUsers, 500); ok {
		t.Fatal("empty dir must resolve to nothing")
	}

	oldPath, err := s.AvatarDownloadPath(AvatarUsers, 500, 1)
	if err != nil {
		t.Fatal(err)
	}
	newPath, err := s.AvatarDownloadPath(AvatarUsers, 500, 2)
	if err != nil {
		t.Fatal(err)
	}
	if err = os.WriteFile(oldPath, []byte("old"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err = os.WriteFile(newPath, []byte("new"), 0o600); err != nil {
		t.Fatal(err)
	}
	// mtime управляет выбором, выставляем явно.
	past := time.Now().Add(-time.Hour)
	if err = os.Chtimes(oldPath, past, past); err != nil {
		t.Fatal(err)
	}

	rel, ok := s.ResolveAvatar(AvatarUsers, 500)
	if !ok {
		t.Fatal("avatar must resolve")
	}
	if rel != "avatars/users/500_2.jpg" {
		t.Errorf("rel = %q, want avatars/users/500_2.jpg", rel)
	}

	if !s.HasAvatar(AvatarUsers, 500, 2) || s.HasAvatar(AvatarUsers, 500, 3) {
		t.Error("HasAvatar mismatch")
	}

	// Устаревшее имя без photo_id.
	legacy := filepath.Join(root, "avatars", "chats", "600.jpg")
	if err = os.MkdirAll(filepath.Dir(legacy), 0o700); err != nil {
		t.Fatal(err)
	}
	if err = os.WriteFile(legacy, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	rel, ok = s.ResolveAvatar(AvatarChats, 600)
	if !ok || rel != "avatars/chats/600.jpg" {
		t.Errorf("legacy avatar = (%q, %v)", rel, ok)
	}
}
