// Package language normalizes the transcription language hint sent to ASR
// providers. Whisper-compatible endpoints accept ISO 639-1 codes only, so
// config values such as "english" or "eng" are mapped to "en".
package language
