package i18n

import (
	"strconv"
	"strings"
)

// Content is a rendered message. SMS uses Text only.
type Content struct {
	Subject string
	Text    string
	HTML    string
}

type messageStrings struct {
	VerificationSubject string
	VerificationText    string
	VerificationHTML    string
	VerificationSMS     string

	TwoFactorSubject string
	TwoFactorText    string
	TwoFactorHTML    string
	TwoFactorSMS     string

	PasswordResetSubject string
	PasswordResetText    string
	PasswordResetHTML    string

	WelcomeSubject string
	WelcomeText    string
	WelcomeHTML    string

	DefaultName string
}

var translations = map[string]messageStrings{
	"en": {
		VerificationSubject: "Verify your GardenHub email",
		VerificationText:    "Hi {name},\n\nYour verification code is {code}. It is valid for {minutes} minutes.\n\nIf you did not sign up for GardenHub, you can ignore this email.",
		VerificationHTML: "<p>Hi {name},</p>" +
			"<p>Use the code below to verify your email address.</p>" +
			"<p style=\"font-size:24px;letter-spacing:4px\"><strong>{code}</strong></p>" +
			"<p>The code expires in {minutes} minutes.</p>" +
			"<p>If you did not sign up for GardenHub, you can ignore this email.</p>",
		VerificationSMS: "GardenHub: your verification code is {code}. Valid for {minutes} minutes.",

		TwoFactorSubject: "Your GardenHub sign-in code",
		TwoFactorText:    "Hi {name},\n\nYour sign-in code is {code} (valid for {minutes} minutes).",
		TwoFactorHTML:    "<p>Hi {name},</p><p>Your sign-in code is <strong>{code}</strong> (valid for {minutes} minutes).</p>",
		TwoFactorSMS:     "GardenHub: your sign-in code is {code}. Valid for {minutes} minutes.",

		PasswordResetSubject: "Reset your GardenHub password",
		PasswordResetText:    "Hi {name},\n\nYour password reset code is {code}. It is valid for {minutes} minutes.\nIf you did not request this, ignore this email.",
		PasswordResetHTML: "<p>Hi {name},</p>" +
			"<p>Your password reset code is <strong>{code}</strong>.</p>" +
			"<p>The code expires in {minutes} minutes.</p>" +
			"<p>If you did not request this, ignore this email.</p>",

		WelcomeSubject: "Welcome to GardenHub",
		WelcomeText:    "Hi {name},\n\nYour email is verified. Find a community garden near you, request a plot and start growing.",
		WelcomeHTML: "<p>Hi {name},</p>" +
			"<p>Your email is verified. Welcome to GardenHub!</p>" +
			"<p>Find a community garden near you, request a plot and start growing.</p>",

		DefaultName: "gardener",
	},
	"de": {
		VerificationSubject: "GardenHub E-Mail verifizieren",
		VerificationText:    "Hallo {name},\n\nIhr Verifizierungscode ist {code}. Er ist {minutes} Minuten gültig.\n\nWenn Sie sich nicht bei GardenHub registriert haben, können Sie diese E-Mail ignorieren.",
		VerificationHTML: "<p>Hallo {name},</p>" +
			"<p>Verwenden Sie den untenstehenden Code, um Ihre E-Mail zu verifizieren.</p>" +
			"<p style=\"font-size:24px;letter-spacing:4px\"><strong>{code}</strong></p>" +
			"<p>Der Code ist {minutes} Minuten gültig.</p>" +
			"<p>Wenn Sie sich nicht bei GardenHub registriert haben, können Sie diese E-Mail ignorieren.</p>",
		VerificationSMS: "GardenHub: Ihr Verifizierungscode ist {code}. Gültig für {minutes} Minuten.",

		TwoFactorSubject: "Ihr GardenHub-Anmeldecode",
		TwoFactorText:    "Hallo {name},\n\nIhr Anmeldecode ist {code} (gültig für {minutes} Minuten).",
		TwoFactorHTML:    "<p>Hallo {name},</p><p>Ihr Anmeldecode ist <strong>{code}</strong> (gültig für {minutes} Minuten).</p>",
		TwoFactorSMS:     "GardenHub: Ihr Anmeldecode ist {code}. Gültig für {minutes} Minuten.",

		PasswordResetSubject: "GardenHub Passwort zurücksetzen",
		PasswordResetText:    "Hallo {name},\n\nIhr Code zum Zurücksetzen ist {code}. Er ist {minutes} Minuten gültig.\nWenn Sie dies nicht angefordert haben, ignorieren Sie diese E-Mail.",
		PasswordResetHTML: "<p>Hallo {name},</p>" +
			"<p>Ihr Code zum Zurücksetzen ist <strong>{code}</strong>.</p>" +
			"<p>Der Code ist {minutes} Minuten gültig.</p>" +
			"<p>Wenn Sie dies nicht angefordert haben, ignorieren Sie diese E-Mail.</p>",

		WelcomeSubject: "Willkommen bei GardenHub",
		WelcomeText:    "Hallo {name},\n\nIhre E-Mail ist verifiziert. Finden Sie einen Gemeinschaftsgarten in Ihrer Nähe und beantragen Sie ein Beet.",
		WelcomeHTML: "<p>Hallo {name},</p>" +
			"<p>Ihre E-Mail ist verifiziert. Willkommen bei GardenHub!</p>" +
			"<p>Finden Sie einen Gemeinschaftsgarten in Ihrer Nähe und beantragen Sie ein Beet.</p>",

		DefaultName: "Gärtner",
	},
}

func stringsForLocale(locale string) messageStrings {
	if val, ok := translations[NormalizeLocale(locale)]; ok {
		return val
	}
	return translations[DefaultLocale]
}

func renderTemplate(tmpl string, values map[string]string) string {
	if tmpl == "" || len(values) == 0 {
		return tmpl
	}
	replacements := make([]string, 0, len(values)*2)
	for key, value := range values {
		replacements = append(replacements, "{"+key+"}", value)
	}
	return strings.NewReplacer(replacements...).Replace(tmpl)
}

func codeValues(t messageStrings, name, code string, minutes int) map[string]string {
	if strings.TrimSpace(name) == "" {
		name = t.DefaultName
	}
	return map[string]string{
		"name":    name,
		"code":    code,
		"minutes": strconv.Itoa(minutes),
	}
}

func VerificationEmail(locale, name, code string, minutes int) Content {
	t := stringsForLocale(locale)
	values := codeValues(t, name, code, minutes)
	return Content{
		Subject: t.VerificationSubject,
		Text:    renderTemplate(t.VerificationText, values),
		HTML:    renderTemplate(t.VerificationHTML, values),
	}
}

func VerificationSMS(locale, code string, minutes int) Content {
	t := stringsForLocale(locale)
	return Content{Text: renderTemplate(t.VerificationSMS, codeValues(t, "", code, minutes))}
}

func TwoFactorEmail(locale, name, code string, minutes int) Content {
	t := stringsForLocale(locale)
	values := codeValues(t, name, code, minutes)
	return Content{
		Subject: t.TwoFactorSubject,
		Text:    renderTemplate(t.TwoFactorText, values),
		HTML:    renderTemplate(t.TwoFactorHTML, values),
	}
}

func TwoFactorSMS(locale, code string, minutes int) Content {
	t := stringsForLocale(locale)
	return Content{Text: renderTemplate(t.TwoFactorSMS, codeValues(t, "", code, minutes))}
}

func PasswordResetEmail(locale, name, code string, minutes int) Content {
	t := stringsForLocale(locale)
	values := codeValues(t, name, code, minutes)
	return Content{
		Subject: t.PasswordResetSubject,
		Text:    renderTemplate(t.PasswordResetText, values),
		HTML:    renderTemplate(t.PasswordResetHTML, values),
	}
}

func WelcomeEmail(locale, name string) Content {
	t := stringsForLocale(locale)
	values := codeValues(t, name, "", 0)
	return Content{
		Subject: t.WelcomeSubject,
		Text:    renderTemplate(t.WelcomeText, values),
		HTML:    renderTemplate(t.WelcomeHTML, values),
	}
}
