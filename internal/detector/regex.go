package detector

import (
	"regexp"
	"strings"

	"piimask/internal/span"
)

// Pattern-based detector, tuned for German-market PII: emails, DE phone
// numbers, IBAN/BIC, VAT ids, invoice numbers, dates (DE + EN), postal
// codes, IPv4 addresses and URLs.
//
// RE2 has no lookarounds, so the word-boundary guards the phone and IBAN
// patterns need are applied as explicit rune checks on the match edges.

var (
	emailRe = regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)

	// Phone, international German form: +49 / 0049 with flexible separators
	// and an optional "(0)" after the country code.
	phoneIntlRe = regexp.MustCompile(`(?:\+|00)49[\s()/\-]*\(?0?\)?[\s()/\-]*[0-9]{1,5}(?:[\s()/\-]*[0-9]{2,}){1,4}`)

	// Phone, national German form: leading 0 plus area code. The separator
	// after the area code must be a space, slash or closing paren, never a
	// bare hyphen, which would swallow invoice ids like 2024-00127.
	phoneDomesticRe = regexp.MustCompile(`0[0-9]{2,5}(?:\)\s+|[ )/]\s*)[0-9]{2,}(?:[ )/][0-9]{2,}){0,4}`)

	// Context window that marks a digit run as an invoice/ticket id rather
	// than a phone number.
	phoneIDContextRe = regexp.MustCompile(`[A-ZÄÖÜ]{2,5}-[0-9]{4}\s*-\s*[0-9]{2,}`)

	ibanRe  = regexp.MustCompile(`DE(?:[ \t]*[0-9]){20}`)
	bicRe   = regexp.MustCompile(`\b[A-Z]{4}[A-Z]{2}[A-Z0-9]{2}(?:[A-Z0-9]{3})?\b`)
	vatIDRe = regexp.MustCompile(`\bDE[0-9]{9}\b`)

	// Money amounts: "€ 1.234,56", "EUR 1234.56", "1.234,56 €", "1234 EUR".
	amountRe = regexp.MustCompile(`(?i)(?:(?:€|EUR)\s*[+\-]?(?:[0-9]{1,3}(?:[.\s][0-9]{3})*|[0-9]+)(?:[.,][0-9]{2})?|[+\-]?(?:[0-9]{1,3}(?:[.\s][0-9]{3})*|[0-9]+)(?:[.,][0-9]{2})?\s*(?:€|EUR))`)

	// Invoice ids. The keyword form masks only the id, never the keyword.
	invoiceKeywordRe = regexp.MustCompile(`(?i)\b(?:rechnung(?:s)?(?:nr\.?|nummer)?|rg\.?-?nr\.?|re\.?-?nr\.?|invoice(?:\s*no\.?)?)\s*[:#]?\s*([A-Z0-9][A-Z0-9\-/]{3,24})`)
	invoicePlainRes  = []*regexp.Regexp{
		regexp.MustCompile(`\b[A-Z]{2,6}-20[0-9]{2}-[0-9]{3,6}\b`),       // vendor style: TS-2024-0915
		regexp.MustCompile(`\b20[0-9]{2}[-/][0-9]{3,6}\b`),               // year + running number
		regexp.MustCompile(`(?i)\b(?:INV|RE|RG|RN|RNG|BILL)[-_]?[0-9]{4,8}\b`), // short prefixes
	}

	dateMonths = `(?:Jan(?:uary)?|Feb(?:ruary)?|Mär(?:z)?|Mar(?:ch)?|Apr(?:il)?|May|Jun(?:e)?|Jul(?:y)?|Aug(?:ust)?|Sep(?:t(?:ember)?)?|Okt(?:ober)?|Oct(?:ober)?|Nov(?:ember)?|Dez(?:ember)?|Dec(?:ember)?)`
	dateRes    = []*regexp.Regexp{
		regexp.MustCompile(`\b(?:19|20)[0-9]{2}-[0-9]{2}-[0-9]{2}\b`),               // ISO
		regexp.MustCompile(`\b[0-9]{1,2}[./\-][0-9]{1,2}[./\-][0-9]{2,4}\b`),        // 17.10.2024
		regexp.MustCompile(`(?i)\b[0-9]{1,2}\.\s*` + dateMonths + `\s*[0-9]{4}\b`),  // 17. Oktober 2024
		regexp.MustCompile(`(?i)\b` + dateMonths + `\s+[0-9]{1,2},\s*[0-9]{4}\b`),   // March 12, 2025
		regexp.MustCompile(`(?i)\b[0-9]{1,2}\s+` + dateMonths + `\s+[0-9]{4}\b`),    // 12 March 2025
	}

	postalRe = regexp.MustCompile(`(?:D[-\s])?([0-9]{5})`)

	ipOctet = `(?:25[0-5]|2[0-4][0-9]|1[0-9][0-9]|[1-9]?[0-9])`
	ipv4Re  = regexp.MustCompile(ipOctet + `\.` + ipOctet + `\.` + ipOctet + `\.` + ipOctet)

	urlRe = regexp.MustCompile(`(?i)\bhttps?://[^\s<>"]+|\bwww\.[^\s<>"]+`)
)

const trailingPunct = ".,;:!?)]}\"'"

// Regex is the pattern-based detector variant.
type Regex struct {
	maskBIC  bool
	priority func(category string) int
}

// NewRegex creates the pattern detector. priority maps a category to its
// conflict-resolution rank; maskBIC toggles the very false-positive-prone
// BIC pattern.
func NewRegex(maskBIC bool, priority func(category string) int) *Regex {
	return &Regex{maskBIC: maskBIC, priority: priority}
}

// Name implements Detector.
func (d *Regex) Name() string { return "regex" }

// Detect implements Detector. Overlaps between the emitted spans are
// expected (e.g. a date inside an invoice id) and resolved downstream.
func (d *Regex) Detect(text string) ([]span.Span, error) {
	if text == "" {
		return nil, nil
	}
	var out []span.Span
	add := func(s, e int, category string) {
		out = append(out, span.Span{
			Start:    s,
			End:      e,
			Text:     text[s:e],
			Category: category,
			Source:   span.SourceRegex,
			Priority: d.priority(category),
		})
	}

	for _, m := range emailRe.FindAllStringIndex(text, -1) {
		add(m[0], m[1], "EMAIL")
	}
	d.scanPhones(text, add)
	d.scanFinance(text, add)
	d.scanInvoices(text, add)
	for _, rx := range dateRes {
		for _, m := range rx.FindAllStringIndex(text, -1) {
			add(m[0], m[1], "DATE")
		}
	}
	d.scanPostalCodes(text, add)
	d.scanIPs(text, add)
	d.scanURLs(text, add)
	return out, nil
}

// scanPhones finds international and national German phone numbers.
// International first: it is more specific; the combiner sorts out overlaps.
func (d *Regex) scanPhones(text string, add func(int, int, string)) {
	emit := func(m []int) {
		s, e := m[0], m[1]
		if wordBefore(text, s) || wordAfter(text, e) {
			return
		}
		if d.isFalsePositivePhone(text, s, e) {
			return
		}
		add(s, e, "PHONE")
	}
	for _, m := range phoneIntlRe.FindAllStringIndex(text, -1) {
		emit(m)
	}
	for _, m := range phoneDomesticRe.FindAllStringIndex(text, -1) {
		emit(m)
	}
}

// isFalsePositivePhone rejects matches that are too short to be a real
// number, or that sit right after an invoice/ticket id prefix.
func (d *Regex) isFalsePositivePhone(text string, s, e int) bool {
	digits := 0
	for _, r := range text[s:e] {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	if digits < 7 {
		return true
	}
	winStart := s - 12
	if winStart < 0 {
		winStart = 0
	}
	return phoneIDContextRe.MatchString(text[winStart:s])
}

func (d *Regex) scanFinance(text string, add func(int, int, string)) {
	for _, m := range ibanRe.FindAllStringIndex(text, -1) {
		if wordBefore(text, m[0]) || wordAfter(text, m[1]) {
			continue
		}
		add(m[0], m[1], "IBAN")
	}
	if d.maskBIC {
		for _, m := range bicRe.FindAllStringIndex(text, -1) {
			add(m[0], m[1], "BIC")
		}
	}
	for _, m := range vatIDRe.FindAllStringIndex(text, -1) {
		add(m[0], m[1], "VAT_ID")
	}
	for _, m := range amountRe.FindAllStringIndex(text, -1) {
		add(m[0], m[1], "AMOUNT")
	}
}

// scanInvoices masks only the id capture for the keyword pattern; the
// keyword itself ("Rechnungsnummer:") stays in the text.
func (d *Regex) scanInvoices(text string, add func(int, int, string)) {
	for _, m := range invoiceKeywordRe.FindAllStringSubmatchIndex(text, -1) {
		if m[2] >= 0 && m[3] > m[2] {
			add(m[2], m[3], "INVOICE_ID")
		}
	}
	for _, rx := range invoicePlainRes {
		for _, m := range rx.FindAllStringIndex(text, -1) {
			add(m[0], m[1], "INVOICE_ID")
		}
	}
}

// scanPostalCodes finds 5-digit German postal codes, with separator checks
// that keep ticket ids and version strings out.
func (d *Regex) scanPostalCodes(text string, add func(int, int, string)) {
	const allowedLeft = " \t\r\n,;:([{\"'"
	const allowedRight = " \t\r\n,;:.)]}/\"'"

	for _, m := range postalRe.FindAllStringSubmatchIndex(text, -1) {
		s, e := m[2], m[3]
		if s > 0 && text[s-1] >= '0' && text[s-1] <= '9' {
			continue
		}
		if e < len(text) && text[e] >= '0' && text[e] <= '9' {
			continue
		}
		if s > 0 && !strings.ContainsRune(allowedLeft, rune(text[s-1])) {
			// "D-70173" is a postal code; "ST-2024-70173" is not.
			if !(text[s-1] == '-' && s >= 2 && (text[s-2] == 'D' || text[s-2] == 'd') && !wordBefore(text, s-2)) {
				continue
			}
		}
		if e < len(text) && !strings.ContainsRune(allowedRight, rune(text[e])) {
			continue
		}
		add(s, e, "POSTAL_CODE")
	}
}

func (d *Regex) scanIPs(text string, add func(int, int, string)) {
	for _, m := range ipv4Re.FindAllStringIndex(text, -1) {
		s, e := m[0], m[1]
		if s > 0 && (text[s-1] == '.' || (text[s-1] >= '0' && text[s-1] <= '9')) {
			continue
		}
		if e < len(text) && text[e] >= '0' && text[e] <= '9' {
			continue
		}
		for e > s && strings.ContainsRune(trailingPunct, rune(text[e-1])) {
			e--
		}
		if e > s {
			add(s, e, "IP_ADDRESS")
		}
	}
}

// scanURLs matches broadly, then trims trailing punctuation so sentence
// periods and closing brackets never end up inside the masked value.
func (d *Regex) scanURLs(text string, add func(int, int, string)) {
	for _, m := range urlRe.FindAllStringIndex(text, -1) {
		s, e := m[0], m[1]
		for e > s && strings.ContainsRune(trailingPunct, rune(text[e-1])) {
			e--
		}
		if e > s {
			add(s, e, "URL")
		}
	}
}
