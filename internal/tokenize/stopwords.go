package tokenize

var stopwords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		"です", "ます", "した", "して", "ください", "お願い", "いる", "ある", "れる", "られる",
		"なる", "する", "できる", "という", "いう", "ため", "ので", "から", "こと", "もの",
		"ように", "よう", "など", "どの", "その", "これ", "それ", "あれ", "どれ", "ほど",
		"まで", "より", "でも", "ない", "なら", "のみ", "まま", "もう", "よく", "どう",
		"について", "に関して", "ですか", "ますか", "でしょうか",
		"を", "は", "が", "の", "に", "へ", "で", "と", "も", "や", "か",
	} {
		stopwords[w] = struct{}{}
	}
}

// IsStopword reports whether term carries no search signal on its own.
func IsStopword(term string) bool {
	_, ok := stopwords[term]
	return ok
}
