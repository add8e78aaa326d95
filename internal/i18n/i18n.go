// Package i18n holds the localized proctoring message catalog and locale matching.
package i18n

import (
	"fmt"

	"golang.org/x/text/language"
)

const (
	Thai    = "th"
	English = "en"
)

var (
	supportedCodes = []string{Thai, English}
	matcher        = language.NewMatcher([]language.Tag{language.Thai, language.English})
)

// Match picks the best supported locale for the given Accept-Language style
// preferences. fallback is returned when nothing matches.
func Match(fallback string, preferences ...string) string {
	var tags []language.Tag
	for _, pref := range preferences {
		if pref == "" {
			continue
		}
		parsed, _, err := language.ParseAcceptLanguage(pref)
		if err != nil {
			continue
		}
		tags = append(tags, parsed...)
	}
	if len(tags) == 0 {
		return Normalize(fallback)
	}

	_, index, confidence := matcher.Match(tags...)
	if confidence == language.No {
		return Normalize(fallback)
	}
	return supportedCodes[index]
}

// Normalize maps any locale string onto a supported code, defaulting to Thai.
func Normalize(locale string) string {
	for _, code := range supportedCodes {
		if code == locale {
			return code
		}
	}
	return Thai
}

// Text returns the catalog entry for key, formatted with args.
// The Thai entry is used when the locale lacks the key; ok is false when neither has it.
func Text(locale, key string, args ...any) (string, bool) {
	format, ok := catalog[Normalize(locale)][key]
	if !ok {
		format, ok = catalog[Thai][key]
	}
	if !ok {
		return "", false
	}
	if len(args) == 0 {
		return format, true
	}
	return fmt.Sprintf(format, args...), true
}

var catalog = map[string]map[string]string{
	Thai: {
		"description.tab_switch":                "ผู้สอบเปลี่ยนแท็บหรือหน้าต่างระหว่างการสอบ",
		"description.multiple_faces":            "ตรวจพบใบหน้าหลายคนในกล้อง",
		"description.no_face_detected":          "ไม่พบใบหน้าในกล้อง",
		"description.suspicious_movement":       "การเคลื่อนไหวที่น่าสงสัยในกล้อง",
		"description.webcam_disabled":           "กล้องถูกปิดระหว่างการสอบ",
		"description.webcam_error":              "ไม่สามารถเข้าถึงกล้องได้",
		"description.unauthorized_application":  "เปิดแอปพลิเคชันที่ไม่ได้รับอนุญาต",
		"description.right_click_attempt":       "พยายามคลิกขวาระหว่างการสอบ",
		"description.keyboard_shortcut_attempt": "พยายามใช้คีย์ลัดที่ไม่ได้รับอนุญาต",
		"description.developer_tools_attempt":   "พยายามเปิดเครื่องมือนักพัฒนา",
		"description.unknown":                   "การละเมิดที่ไม่ระบุ",

		"warning.tab_switch":          "คำเตือน: คุณได้เปลี่ยนหน้าต่างไป %d ครั้งแล้ว หากเปลี่ยนเกิน %d ครั้ง การทดสอบจะถูกยุติ",
		"warning.multiple_faces":      "คำเตือน: ตรวจพบใบหน้าหลายคนในกล้อง %d ครั้ง กรุณาทำแบบทดสอบเพียงลำพัง",
		"warning.no_face_detected":    "คำเตือน: ไม่พบใบหน้าในกล้อง %d ครั้ง กรุณาอยู่หน้ากล้องตลอดเวลา",
		"warning.suspicious_movement": "คำเตือน: ตรวจพบการเคลื่อนไหวผิดปกติ %d ครั้ง",
		"warning.unknown":             "คำเตือนทั่วไป",

		"termination.excessive_violations":     "การทดสอบถูกยุติเนื่องจากการละเมิดกฎเกณฑ์มากเกินไป",
		"termination.webcam_disabled":          "การทดสอบถูกยุติเนื่องจากปิดกล้อง",
		"termination.unauthorized_application": "การทดสอบถูกยุติเนื่องจากเปิดแอปพลิเคชันที่ไม่ได้รับอนุญาต",
		"termination.manual_termination":       "การทดสอบถูกยุติโดยผู้ควบคุม",
		"termination.session_timeout":          "การทดสอบถูกยุติเนื่องจากหมดเวลาการคุมสอบ",
		"termination.unknown":                  "การทดสอบถูกยุติ",
	},
	English: {
		"description.tab_switch":                "The candidate switched tabs or windows during the exam",
		"description.multiple_faces":            "Multiple faces detected on camera",
		"description.no_face_detected":          "No face detected on camera",
		"description.suspicious_movement":       "Suspicious movement detected on camera",
		"description.webcam_disabled":           "The webcam was turned off during the exam",
		"description.webcam_error":              "The webcam could not be accessed",
		"description.unauthorized_application":  "An unauthorized application was opened",
		"description.right_click_attempt":       "Attempted to right-click during the exam",
		"description.keyboard_shortcut_attempt": "Attempted to use a blocked keyboard shortcut",
		"description.developer_tools_attempt":   "Attempted to open developer tools",
		"description.unknown":                   "Unspecified violation",

		"warning.tab_switch":          "Warning: you have switched windows %d times. The exam will be terminated after %d switches",
		"warning.multiple_faces":      "Warning: multiple faces detected on camera %d times. Please take the exam alone",
		"warning.no_face_detected":    "Warning: no face detected on camera %d times. Please stay in front of the camera",
		"warning.suspicious_movement": "Warning: unusual movement detected %d times",
		"warning.unknown":             "General warning",

		"termination.excessive_violations":     "The exam was terminated due to excessive rule violations",
		"termination.webcam_disabled":          "The exam was terminated because the webcam was turned off",
		"termination.unauthorized_application": "The exam was terminated because an unauthorized application was opened",
		"termination.manual_termination":       "The exam was terminated by the proctor",
		"termination.session_timeout":          "The exam was terminated because the proctoring session timed out",
		"termination.unknown":                  "The exam was terminated",
	},
}
