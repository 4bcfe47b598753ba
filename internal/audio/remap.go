package audio

// Channel remapping between the decoder's layout and what the hardware
// accepts. All matrices are hand-written: the per-channel downmix weights
// sum to 1000 per output channel, so a full-scale input cannot overflow the
// 32-bit accumulator before the /1000.
//
// Layout convention for surround inputs (after decoder-side reordering):
//	3ch  L R C
//	4ch  L R Ls Rs
//	5ch  L R Ls Rs C
//	6ch  L R Ls Rs C LFE		(5.1)
//	7ch  L R Ls Rs C Rl Rr		(7.0)
//	8ch  L R Ls Rs C LFE Rl Rr	(7.1)

// monoToStereo duplicates each sample into both output channels.
func monoToStereo(in []int16, frames int, out []int16) {
	for i := 0; i < frames; i++ {
		t := in[i]
		out[i*2+0] = t
		out[i*2+1] = t
	}
}

// stereoToMono averages sample pairs.
func stereoToMono(in []int16, frames int, out []int16) {
	for i := 0; i < frames; i++ {
		out[i] = int16((int32(in[i*2]) + int32(in[i*2+1])) / 2)
	}
}

// surroundToStereo downmixes 3..8 input channels to stereo with fixed
// weights per channel count.
func surroundToStereo(in []int16, inChannels, frames int, out []int16) {
	for f := 0; f < frames; f++ {
		var l, r int32

		switch inChannels {
		case 3:
			l = int32(in[0])*600 + int32(in[2])*400
			r = int32(in[1])*600 + int32(in[2])*400
		case 4:
			l = int32(in[0])*600 + int32(in[2])*400
			r = int32(in[1])*600 + int32(in[3])*400
		case 5:
			l = int32(in[0])*500 + int32(in[2])*200 + int32(in[4])*300
			r = int32(in[1])*500 + int32(in[3])*200 + int32(in[4])*300
		case 6: // 5.1
			l = int32(in[0])*400 + int32(in[2])*200 + int32(in[4])*300 + int32(in[5])*100
			r = int32(in[1])*400 + int32(in[3])*200 + int32(in[4])*300 + int32(in[5])*100
		case 7: // 7.0
			l = int32(in[0])*400 + int32(in[2])*200 + int32(in[4])*300 + int32(in[5])*100
			r = int32(in[1])*400 + int32(in[3])*200 + int32(in[4])*300 + int32(in[6])*100
		case 8: // 7.1
			l = int32(in[0])*400 + int32(in[2])*150 + int32(in[4])*250 + int32(in[5])*100 + int32(in[6])*100
			r = int32(in[1])*400 + int32(in[3])*150 + int32(in[4])*250 + int32(in[5])*100 + int32(in[7])*100
		}
		in = in[inChannels:]

		out[0] = int16(l / 1000)
		out[1] = int16(r / 1000)
		out = out[2:]
	}
}

// upmix copies existing channels and zero-fills the missing ones.
func upmix(in []int16, inChannels, frames int, out []int16, outChannels int) {
	for f := 0; f < frames; f++ {
		copy(out[:inChannels], in[:inChannels])
		for i := inChannels; i < outChannels; i++ {
			out[i] = 0
		}
		in = in[inChannels:]
		out = out[outChannels:]
	}
}

// remapChannels converts an interleaved block from inChannels to
// outChannels. Unsupported pairs produce silence; the caller logs them. It
// reports whether the pair was supported.
func remapChannels(in []int16, inChannels, frames int, out []int16, outChannels int) bool {
	switch {
	case inChannels == outChannels:
		copy(out, in[:frames*inChannels])
	case inChannels == 2 && outChannels == 1:
		stereoToMono(in, frames, out)
	case inChannels == 1 && outChannels == 2:
		monoToStereo(in, frames, out)
	case inChannels >= 3 && inChannels <= 8 && outChannels == 2:
		surroundToStereo(in, inChannels, frames, out)
	case inChannels < outChannels && outChannels <= 8:
		upmix(in, inChannels, frames, out, outChannels)
	default:
		for i := 0; i < frames*outChannels; i++ {
			out[i] = 0
		}
		return false
	}
	return true
}
