package home

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	// DefaultDirName is the default name for the quire home directory.
	DefaultDirName = ".quire"

	// LibraryDirName is the default subdirectory for downloaded books.
	LibraryDirName = "library"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"

	// StateDirName is the hidden per-book directory holding the archive record.
	StateDirName = ".quire"

	// AudioDirName is the per-book audio subdirectory.
	AudioDirName = "audio"

	// ImagesDirName holds downloaded inline images inside the state directory.
	ImagesDirName = "images"

	// MaxNameBytes caps the byte length of a single path component built from a title.
	MaxNameBytes = 120
)

// Dir represents the quire home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.quire).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// LibraryPath returns the default save root for books.
func (d *Dir) LibraryPath() string {
	return filepath.Join(d.path, LibraryDirName)
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// EnsureExists creates the home directory and the default library directory.
func (d *Dir) EnsureExists() error {
	if err := os.MkdirAll(d.LibraryPath(), 0o755); err != nil {
		return fmt.Errorf("failed to create library directory: %w", err)
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}

// BookDirName returns the folder name for a book: "<id>_<name>".
func BookDirName(bookID, bookName string) string {
	return SafeName(bookID) + "_" + SafeName(bookName)
}

// BookDir returns the folder for a book under the save root.
func BookDir(root, bookID, bookName string) string {
	return filepath.Join(root, BookDirName(bookID, bookName))
}

// StateDir returns the hidden archive directory inside a book folder.
func StateDir(bookDir string) string {
	return filepath.Join(bookDir, StateDirName)
}

// ImageCacheDir returns the inline image cache of a book folder.
func ImageCacheDir(bookDir string) string {
	return filepath.Join(StateDir(bookDir), ImagesDirName)
}

// AudioDir returns the audio directory inside a book folder.
func AudioDir(bookDir string) string {
	return filepath.Join(bookDir, AudioDirName)
}

// ChapterFileName returns "<NNNN><sep><title>.<ext>" for per-chapter artifacts.
func ChapterFileName(index int, sep, title, ext string) string {
	return fmt.Sprintf("%04d%s%s.%s", index, sep, SafeName(title), ext)
}

var bookDirPattern = regexp.MustCompile(`^([0-9]+)_(.+)$`)

// ParseBookDirName splits a book folder name into id and name.
func ParseBookDirName(name string) (bookID, bookName string, ok bool) {
	m := bookDirPattern.FindStringSubmatch(name)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

var reservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

var forbidden = strings.NewReplacer(
	":", "：",
	"\"", "＂",
	"<", "《",
	">", "》",
	"/", "、",
	"\\", "、",
	"|", "｜",
	"?", "？",
	"*", "＊",
)

// SafeName maps a title to a portable file name component.
// Forbidden characters become full-width equivalents, control characters become "_",
// trailing dots and spaces are trimmed, reserved device names are prefixed, and the
// result is capped at MaxNameBytes without splitting a UTF-8 sequence.
func SafeName(name string) string {
	s := norm.NFC.String(name)
	s = forbidden.Replace(s)
	s = strings.Map(func(r rune) rune {
		if r < 32 || r == 0x7f {
			return '_'
		}
		return r
	}, s)
	s = strings.TrimRight(s, " .")
	if s == "" {
		return "unnamed"
	}
	if reservedNames[strings.ToUpper(s)] {
		s = "_" + s
	}
	if len(s) > MaxNameBytes {
		cut := MaxNameBytes
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = strings.TrimRight(s[:cut], " .")
		if s == "" {
			return "unnamed"
		}
	}
	return s
}
