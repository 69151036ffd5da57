// Package errors provides coded, user-facing errors for the acceptd CLI.
//
// Library packages return plain sentinel and typed errors. The CLI wraps
// them in a *CodedError at the boundary so the operator sees what failed,
// why, and how to fix it.
//
// # Error Categories
//
//   - config: acceptd.json problems (E120-E139)
//   - cli: command usage problems (E140-E159)
//   - network: bind, listen and accept failures (E200-E219)
//
// # Usage
//
//	if errors.Is(err, listener.ErrBind) {
//	    return cerrors.New("E200").
//	        Wrap(err).
//	        WithSuggestion("Choose another port with --port")
//	}
//
// Printed with Format, a config syntax error looks like:
//
//	ERROR E120: Invalid acceptd.json
//
//	  acceptd.json:4:14
//
//	       2 │   "address": "0.0.0.0",
//	       3 │   "port": 8080,
//	  →    4 │   "workers": ,
//	         │              ^
//	       5 │   "pollInterval": "1s"
//
//	  The acceptd.json configuration file is malformed.
//
//	  Learn more: https://github.com/vango-dev/acceptd/blob/main/docs/errors.md#e120
package errors
