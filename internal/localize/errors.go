package localize

import (
	"kicad-bakery/internal/backup"
	"kicad-bakery/internal/fetch"
	"kicad-bakery/internal/libtable"
	"kicad-bakery/internal/sexpr"

	"github.com/cockroachdb/errors"
)

// Error taxonomy. Callers classify with errors.Is.
var (
	// ErrParse: malformed source file; only the operation on that file fails.
	ErrParse = sexpr.ErrParse
	// ErrAssetNotFound: a referenced library, footprint, symbol, model or
	// datasheet does not exist.
	ErrAssetNotFound = errors.New("asset not found")
	// ErrNetwork: a remote datasheet could not be downloaded.
	ErrNetwork = fetch.ErrNetwork
	// ErrBackupFailure: a file could not be backed up and was left untouched.
	ErrBackupFailure = backup.ErrBackupFailure
	// ErrLockDetected: a target file is open elsewhere; the run aborts.
	ErrLockDetected = errors.New("file is open in another program")
	// ErrPathSafety: a computed path leaves the project directory; the run aborts.
	ErrPathSafety = errors.New("path escapes the project directory")
	// ErrNameConflict: a destination name is taken by different content.
	ErrNameConflict = libtable.ErrNameConflict
	// ErrInvalidName: a configured library name is unusable; the run aborts.
	ErrInvalidName = libtable.ErrInvalidName
	// ErrFileTooLarge: a design file exceeds the configured size limit.
	ErrFileTooLarge = errors.New("file exceeds size limit")
)

// ErrorKind names the taxonomy class of err for reports.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrLockDetected):
		return "lock_detected"
	case errors.Is(err, ErrPathSafety):
		return "path_safety"
	case errors.Is(err, ErrInvalidName):
		return "invalid_name"
	case errors.Is(err, ErrBackupFailure):
		return "backup_failure"
	case errors.Is(err, ErrNameConflict):
		return "name_conflict"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrAssetNotFound):
		return "asset_not_found"
	case errors.Is(err, ErrParse):
		return "parse"
	case errors.Is(err, ErrFileTooLarge):
		return "file_too_large"
	default:
		return "io"
	}
}

// IsFatal reports whether err belongs to the classes that abort a run during
// validation.
func IsFatal(err error) bool {
	return errors.Is(err, ErrLockDetected) || errors.Is(err, ErrPathSafety) || errors.Is(err, ErrInvalidName)
}
