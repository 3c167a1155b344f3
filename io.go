package aio

// ReadAll reads buf until EOF, accumulating and returning everything
// read — the Go analog of the original's io::readAll helper built atop
// Buffer::read.
func ReadAll(r *Reactor, buf Buffer) *Continuation[[]byte] {
	out, resolve, reject := NewContinuation[[]byte](r)
	var acc []byte

	var step func()
	step = func() {
		buf.Read().Then(func(chunk []byte) {
			acc = append(acc, chunk...)
			step()
		}).Fail(func(err error) {
			if isEOF(err) {
				resolve(acc)
				return
			}
			reject(err)
		})
	}
	step()
	return out
}

// Copy streams src into dst until src reaches EOF, settling with the
// total number of bytes copied. A clean EOF on src is success, not
// failure, the same as the original's io::copy.
func Copy(r *Reactor, dst, src Buffer) *Continuation[int64] {
	out, resolve, reject := NewContinuation[int64](r)
	var total int64

	var step func()
	step = func() {
		src.Read().Then(func(chunk []byte) {
			dst.Write(chunk).Then(func(struct{}) {
				total += int64(len(chunk))
				step()
			}).Fail(reject)
		}).Fail(func(err error) {
			if isEOF(err) {
				resolve(total)
				return
			}
			reject(err)
		})
	}
	step()
	return out
}

// Tunnel pumps a into b and b into a concurrently until both directions
// reach EOF, the Go analog of the original's io::tunnel used to proxy
// one duplex connection through another.
func Tunnel(r *Reactor, a, b Buffer) *Continuation[struct{}] {
	return ThenMap(All(r, Copy(r, b, a), Copy(r, a, b)), func([]int64) (struct{}, error) {
		return struct{}{}, nil
	})
}

func isEOF(err error) bool {
	aioErr, ok := err.(*Error)
	return ok && aioErr.Code == CodeEOF
}
