// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tickrpc

import (
	"code.hybscloud.com/kont"
)

// Loop runs a stateful procedure body one iteration per tick.
// step returns Left(nextState) to continue on the next tick or
// Right(result) to finish in the current one. step may itself yield; the
// following iteration then starts on the tick after step completes.
func Loop[S, A any](initial S, step func(S) kont.Eff[kont.Either[S, A]]) kont.Eff[A] {
	return kont.Bind(step(initial), func(e kont.Either[S, A]) kont.Eff[A] {
		if next, ok := e.GetLeft(); ok {
			return YieldThen(func() kont.Eff[A] {
				return Loop(next, step)
			})
		}
		result, _ := e.GetRight()
		return kont.Pure(result)
	})
}

// Continue is the Left result of a Loop step.
func Continue[S, A any](next S) kont.Eff[kont.Either[S, A]] {
	return kont.Pure(kont.Left[S, A](next))
}

// Break is the Right result of a Loop step.
func Break[S, A any](result A) kont.Eff[kont.Either[S, A]] {
	return kont.Pure(kont.Right[S, A](result))
}
