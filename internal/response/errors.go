package response

import (
	"errors"
	"net/http"

	"github.com/stemsi/exstem-kiosk/internal/model"
)

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden          ErrCode = "FORBIDDEN"
	ErrExamineeAccessOnly ErrCode = "EXAMINEE_ACCESS_ONLY"
	ErrProctorAccessOnly  ErrCode = "PROCTOR_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"
	ErrUnknownAction  ErrCode = "UNKNOWN_ACTION"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Exam-specific ─────────────────────────────────────────────────
	ErrExamNotAvailable ErrCode = "EXAM_NOT_AVAILABLE"
	ErrAlreadyCompleted ErrCode = "ALREADY_COMPLETED"
	ErrKicked           ErrCode = "KICKED"
	ErrMalformedData    ErrCode = "MALFORMED_DATA"
	ErrSessionClosed    ErrCode = "SESSION_CLOSED"
	ErrOffline          ErrCode = "OFFLINE"
	ErrReplayInProgress ErrCode = "REPLAY_IN_PROGRESS"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "Anda tidak memiliki izin untuk mengakses sumber daya ini."
	case ErrExamineeAccessOnly:
		return "Sumber daya ini terbatas untuk peserta ujian."
	case ErrProctorAccessOnly:
		return "Sumber daya ini terbatas untuk pengawas."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."
	case ErrUnknownAction:
		return "Aksi tidak dikenal."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."

	// ─── Exam-specific ─────────────────────────────────────────────────
	case ErrExamNotAvailable:
		return "Ujian ini saat ini tidak tersedia."
	case ErrAlreadyCompleted:
		return "Ujian ini sudah Anda selesaikan."
	case ErrKicked:
		return "Sesi ujian Anda telah dihentikan oleh pengawas."
	case ErrMalformedData:
		return "Data jawaban tidak valid."
	case ErrSessionClosed:
		return "Sesi ujian sudah ditutup."
	case ErrOffline:
		return "Perangkat sedang offline. Jawaban disimpan di perangkat."
	case ErrReplayInProgress:
		return "Sinkronisasi antrean sedang berjalan. Silakan coba lagi nanti."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}

// CodeFor maps a domain error to its code and HTTP status.
func CodeFor(err error) (ErrCode, int) {
	switch {
	case errors.Is(err, model.ErrAlreadyCompleted):
		return ErrAlreadyCompleted, http.StatusConflict
	case errors.Is(err, model.ErrKicked):
		return ErrKicked, http.StatusForbidden
	case errors.Is(err, model.ErrExamUnavailable):
		return ErrExamNotAvailable, http.StatusNotFound
	case errors.Is(err, model.ErrMalformedData):
		return ErrMalformedData, http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrSessionClosed):
		return ErrSessionClosed, http.StatusGone
	default:
		return ErrInternal, http.StatusInternalServerError
	}
}
