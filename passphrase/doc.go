// Package passphrase generates memorable temporary passwords from a format
// such as "CMDDDMW": a capitalized word, a separator, three digits, a
// separator, and a word.
//
// Format codes:
//
//	C  capitalized dictionary word
//	W  dictionary word
//	D  digit 0-9
//	S  symbol from the configured special characters
//	M  the configured separator
//
// Words are drawn from a [Dictionary] bucketed by length. The stock format
// always satisfies the password package's complexity rules.
package passphrase
