package vm

// buildStackTrace walks the current fiber's frames from (pc, fp) upward,
// resolving each frame's enclosing function name through the program's
// debug table. A missing debug entry for a frame is
// not itself fatal — it just yields an unnamed frame, since stripped
// bytecode is valid.
func buildStackTrace(prog *Program, stack *valueStack, pc, fp uint32) []StackFrame {
	var frames []StackFrame
	seen := 0
	const maxFrames = 1024 // guards against a corrupt return-info chain
	for seen < maxFrames {
		entry, err := prog.lookupDebug(pc)
		frame := StackFrame{PC: pc}
		if err == nil {
			frame.FuncName = entry.FrameName
			frame.Line = entry.Line
		}
		frames = append(frames, frame)
		seen++

		if fp < frameSlotReturnInfo {
			break
		}
		info := stack.get(fp + frameSlotReturnInfo)
		retPC, callerFP, _, _ := info.asReturnInfo()
		if callerFP == fp && retPC == pc {
			break // main frame points at itself; stop rather than loop forever
		}
		if fp == 0 {
			break
		}
		pc, fp = retPC, callerFP
	}
	return frames
}
