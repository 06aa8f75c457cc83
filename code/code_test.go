package code

import "testing"

func TestMake(t *testing.T) {
	tests := []struct {
		op       Opcode
		operands []int
		expected Instructions
	}{
		{LoadConst, []int{65534}, Instructions{uint16(LoadConst), 65534}},
		{Call, []int{3}, Instructions{uint16(Call), 3}},
		{PushExcept, []int{5, NoHandler}, Instructions{uint16(PushExcept), 5, NoHandler}},
		{PopTop, []int{}, Instructions{uint16(PopTop)}},
	}

	for _, tt := range tests {
		instruction := Make(tt.op, tt.operands...)
		if len(instruction) != len(tt.expected) {
			t.Fatalf("instruction has wrong length. want=%d, got=%d", len(tt.expected), len(instruction))
		}
		for i, s := range tt.expected {
			if instruction[i] != s {
				t.Errorf("wrong slot at %d. want=%d, got=%d", i, s, instruction[i])
			}
		}
	}
}

func TestInstructionsString(t *testing.T) {
	instructions := []Instructions{
		Make(LoadConst, 1),
		Make(LoadConst, 2),
		Make(BinaryOp, int(OpAdd)),
		Make(PopTop),
	}

	expected := `0000 LoadConst 1
0002 LoadConst 2
0004 BinaryOp 0
0006 PopTop
`
	concatted := Instructions{}
	for _, ins := range instructions {
		concatted = append(concatted, ins...)
	}

	if concatted.String() != expected {
		t.Fatalf("instructions wrongly formatted.\nwant=%q\ngot=%q", expected, concatted.String())
	}
}

func TestSlotWidth(t *testing.T) {
	tests := []struct {
		op   Opcode
		want int
	}{
		{PopTop, 1},
		{Call, 2},
		{LoadClosure, 3},
		{PushExcept, 3},
	}
	for _, tt := range tests {
		if got := SlotWidth(tt.op); got != tt.want {
			t.Errorf("SlotWidth(%v) = %d, want %d", tt.op, got, tt.want)
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ins := Instructions{}
	ins = append(ins, Make(LoadConst, 1)...)
	ins = append(ins, Make(BinaryOp, int(OpAdd))...)
	ins = append(ins, Make(PushExcept, 10, NoHandler)...)

	decoded := Decode(Encode(ins))
	if len(decoded) != len(ins) {
		t.Fatalf("round trip changed length: want=%d got=%d", len(ins), len(decoded))
	}
	for i := range ins {
		if decoded[i] != ins[i] {
			t.Errorf("slot %d: want=%d got=%d", i, ins[i], decoded[i])
		}
	}
}

func TestLookupUnknownOpcode(t *testing.T) {
	if _, err := Lookup(Opcode(9999)); err == nil {
		t.Fatalf("expected error for unknown opcode")
	}
}
