// Package challenge detects and answers the classic JavaScript interstitial
// ("checking your browser") served by Cloudflare's I'm Under Attack mode.
//
// Only that one page template is recognized. Parse reads the form with
// goquery and evaluates the obfuscated arithmetic without a JavaScript
// engine; any other page is reported as ChallengeUnsolvable rather than
// guessed at. Solver enforces the page's submit delay, sends the answer and
// returns the cf_clearance cookie as a Clearance, which callers keep in a
// ClearanceStore until it expires or is rejected.
package challenge
