package artifact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestMaterialize_Produces(t *testing.T) {
	produced := false

	reused, err := Materialize(context.Background(), "test",
		func() (bool, error) { return false, nil },
		func(ctx context.Context) error { produced = true; return nil },
	)
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if reused {
		t.Error("expected fresh production, got reuse")
	}
	if !produced {
		t.Error("producer was not called")
	}
}

func TestMaterialize_Skips(t *testing.T) {
	reused, err := Materialize(context.Background(), "test",
		func() (bool, error) { return true, nil },
		func(ctx context.Context) error {
			t.Fatal("producer must not run when artifact exists")
			return nil
		},
	)
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if !reused {
		t.Error("expected reuse")
	}
}

func TestMaterialize_ProducerError(t *testing.T) {
	boom := errors.New("boom")

	_, err := Materialize(context.Background(), "test",
		func() (bool, error) { return false, nil },
		func(ctx context.Context) error { return boom },
	)
	if !errors.Is(err, boom) {
		t.Errorf("expected producer error, got %v", err)
	}
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artifact.parquet")

	ok, err := FileExists(path)()
	if err != nil || ok {
		t.Errorf("missing file: got ok=%v err=%v", ok, err)
	}

	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	ok, err = FileExists(path)()
	if err != nil || !ok {
		t.Errorf("existing file: got ok=%v err=%v", ok, err)
	}

	ok, err = FileExists(dir)()
	if err != nil || ok {
		t.Errorf("directory should not count as artifact: ok=%v err=%v", ok, err)
	}
}
