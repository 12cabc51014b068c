package metrics

import (
	"encoding/json"
	"errors"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"
)

type recordLogger struct {
	infos []*ExtractionInfo
}

func (l *recordLogger) Log(info *ExtractionInfo) {
	l.infos = append(l.infos, info)
}

func TestCollectorLog(t *testing.T) {
	rl := &recordLogger{}
	c := NewCollector(rl)
	c.Info.Region = RegionInfo{Path: "/data/a.tif", Region: 2}
	c.Info.Extract.NumChunks = 12
	c.Log(errors.New("boom"))

	if len(rl.infos) != 1 {
		t.Fatalf("expected one record, got %d", len(rl.infos))
	}
	s, err := rl.infos[0].ToJSON()
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(s), &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["error"] != "boom" {
		t.Errorf("error field = %v", decoded["error"])
	}
	region := decoded["region"].(map[string]interface{})
	if region["path"] != "/data/a.tif" {
		t.Errorf("region path = %v", region["path"])
	}
}

func TestFileLoggerRotation(t *testing.T) {
	dir := t.TempDir()
	l, err := NewFileLogger(dir, 10, 2, false)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		l.Log(&ExtractionInfo{Region: RegionInfo{Path: "p", Region: i}})
	}
	l.Close()

	files, err := ioutil.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	lines := 0
	for _, f := range files {
		if !strings.HasPrefix(f.Name(), "extract") {
			t.Errorf("unexpected file %s", f.Name())
		}
		if strings.Count(f.Name(), ".") > 1 {
			t.Errorf("unexpected file %s", f.Name())
		}
		b, _ := ioutil.ReadFile(filepath.Join(dir, f.Name()))
		lines += strings.Count(string(b), "\n")
	}
	// At most two writers, each keeping its current file and two rotated ones.
	if len(files) > 6 {
		t.Errorf("rotation kept %d files", len(files))
	}
	if lines == 0 {
		t.Errorf("nothing written")
	}
}
