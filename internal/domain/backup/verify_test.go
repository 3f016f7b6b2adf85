package backup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/calvinturbo/Telegram-Archive/internal/media"
	"github.com/calvinturbo/Telegram-Archive/internal/store"
)

func writeMediaFile(t *testing.T, root, rel string, size int) {
	t.Helper()
	full := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, make([]byte, size), 0o600); err != nil {
		t.Fatal(err)
	}
}

func strPtr(s string) *string { return &s }

func TestMediaIntact(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mediaStore := media.NewStore(root, false, 0)

	writeMediaFile(t, root, "10/photo_1.jpg", 1000)
	writeMediaFile(t, root, "10/empty.bin", 0)

	cases := []struct {
		name string
		row  *store.Media
		want bool
	}{
		{
			name: "intact with matching size",
			row:  &store.Media{FilePath: strPtr("10/photo_1.jpg"), FileSize: 1000},
			want: true,
		},
		{
			name: "size within tolerance",
			row:  &store.Media{FilePath: strPtr("10/photo_1.jpg"), FileSize: 1005},
			want: true,
		},
		{
			name: "unknown declared size is accepted",
			row:  &store.Media{FilePath: strPtr("10/photo_1.jpg"), FileSize: 0},
			want: true,
		},
		{
			name: "size mismatch",
			row:  &store.Media{FilePath: strPtr("10/photo_1.jpg"), FileSize: 5000},
			want: false,
		},
		{
			name: "missing file",
			row:  &store.Media{FilePath: strPtr("10/gone.jpg"), FileSize: 1000},
			want: false,
		},
		{
			name: "empty file",
			row:  &store.Media{FilePath: strPtr("10/empty.bin"), FileSize: 0},
			want: false,
		},
		{
			name: "no recorded path",
			row:  &store.Media{FilePath: nil, FileSize: 1000},
			want: false,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := mediaIntact(mediaStore, tc.row); got != tc.want {
				t.Errorf("mediaIntact() = %v, want %v", got, tc.want)
			}
		})
	}
}
