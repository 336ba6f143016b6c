package interp

import "strings"

// builtinFunc is a statically dispatched builtin: the Arduino hardware
// API plus the handful of pure helper functions
// (map/constrain/min/max/abs) every sketch expects to find in scope.
type builtinFunc func(d *Driver, args []Value) (Value, error)

var builtinTable = map[string]builtinFunc{
	"pinMode":           biPinMode,
	"digitalWrite":      biDigitalWrite,
	"analogWrite":       biAnalogWrite,
	"delay":             biDelay,
	"delayMicroseconds": biDelayMicroseconds,
	"tone":              biTone,
	"noTone":            biNoTone,
	"Serial.begin":      biSerialBegin,
	"Serial.print":      biSerialPrint,
	"Serial.println":    biSerialPrintln,
	"digitalRead":       biDigitalRead,
	"analogRead":        biAnalogRead,
	"millis":            biMillis,
	"micros":            biMicros,
	"pulseIn":           biPulseIn,
	"map":               biMap,
	"constrain":         biConstrain,
	"min":               biMin,
	"max":               biMax,
	"abs":               biAbs,
}

func biPinMode(d *Driver, args []Value) (Value, error) {
	if len(args) != 2 {
		return Value{}, newError(WrongArity, "pinMode expects 2 arguments")
	}
	d.emitter.Emit(CmdPinMode, f("pin", args[0].AsInt()), f("mode", args[1].AsInt()))
	return VoidValue(), nil
}

func biDigitalWrite(d *Driver, args []Value) (Value, error) {
	if len(args) != 2 {
		return Value{}, newError(WrongArity, "digitalWrite expects 2 arguments")
	}
	d.emitter.Emit(CmdDigitalWrite, f("pin", args[0].AsInt()), f("value", args[1].AsInt()))
	return VoidValue(), nil
}

func biAnalogWrite(d *Driver, args []Value) (Value, error) {
	if len(args) != 2 {
		return Value{}, newError(WrongArity, "analogWrite expects 2 arguments")
	}
	d.emitter.Emit(CmdAnalogWrite, f("pin", args[0].AsInt()), f("value", args[1].AsInt()))
	return VoidValue(), nil
}

func biDelay(d *Driver, args []Value) (Value, error) {
	if len(args) != 1 {
		return Value{}, newError(WrongArity, "delay expects 1 argument")
	}
	d.emitter.Emit(CmdDelay, f("duration", args[0].AsInt()))
	return VoidValue(), nil
}

func biDelayMicroseconds(d *Driver, args []Value) (Value, error) {
	if len(args) != 1 {
		return Value{}, newError(WrongArity, "delayMicroseconds expects 1 argument")
	}
	d.emitter.Emit(CmdDelayMicroseconds, f("duration", args[0].AsInt()))
	return VoidValue(), nil
}

func biTone(d *Driver, args []Value) (Value, error) {
	if len(args) < 2 {
		return Value{}, newError(WrongArity, "tone expects 2 or 3 arguments")
	}
	fields := []Field{f("pin", args[0].AsInt()), f("frequency", args[1].AsInt())}
	if len(args) == 3 {
		fields = append(fields, f("duration", args[2].AsInt()))
	}
	d.emitter.Emit(CmdTone, fields...)
	return VoidValue(), nil
}

func biNoTone(d *Driver, args []Value) (Value, error) {
	if len(args) != 1 {
		return Value{}, newError(WrongArity, "noTone expects 1 argument")
	}
	d.emitter.Emit(CmdNoTone, f("pin", args[0].AsInt()))
	return VoidValue(), nil
}

func biSerialBegin(d *Driver, args []Value) (Value, error) {
	if len(args) != 1 {
		return Value{}, newError(WrongArity, "Serial.begin expects 1 argument")
	}
	d.emitter.Emit(CmdSerialBegin, f("baudRate", args[0].AsInt()))
	return VoidValue(), nil
}

func biSerialPrint(d *Driver, args []Value) (Value, error) {
	if len(args) != 1 {
		return Value{}, newError(WrongArity, "Serial.print expects 1 argument")
	}
	d.emitter.Emit(CmdSerialPrint, f("data", args[0].AsString()))
	return VoidValue(), nil
}

func biSerialPrintln(d *Driver, args []Value) (Value, error) {
	data := ""
	if len(args) == 1 {
		data = args[0].AsString()
	}
	d.emitter.Emit(CmdSerialPrintln, f("data", data))
	return VoidValue(), nil
}

func biDigitalRead(d *Driver, args []Value) (Value, error) {
	if len(args) != 1 {
		return Value{}, newError(WrongArity, "digitalRead expects 1 argument")
	}
	pin := int(args[0].AsInt())
	return d.doRead(CmdDigitalReadRequest, "digitalRead", []Field{f("pin", pin)}, args)
}

func biAnalogRead(d *Driver, args []Value) (Value, error) {
	if len(args) != 1 {
		return Value{}, newError(WrongArity, "analogRead expects 1 argument")
	}
	pin := int(args[0].AsInt())
	return d.doRead(CmdAnalogReadRequest, "analogRead", []Field{f("pin", pin)}, args)
}

func biMillis(d *Driver, args []Value) (Value, error) {
	return d.doRead(CmdMillisRequest, "millis", nil, args)
}

func biMicros(d *Driver, args []Value) (Value, error) {
	return d.doRead(CmdMicrosRequest, "micros", nil, args)
}

func biPulseIn(d *Driver, args []Value) (Value, error) {
	if len(args) < 2 {
		return Value{}, newError(WrongArity, "pulseIn expects 2 or 3 arguments")
	}
	pin := int(args[0].AsInt())
	state := args[1].AsInt()
	var timeout int32 = 1000000
	if len(args) > 2 {
		timeout = args[2].AsInt()
	}
	extra := []Field{f("pin", pin), f("state", state), f("timeout", timeout)}
	return d.doRead(CmdPulseInRequest, "pulseIn", extra, args)
}

func biMap(d *Driver, args []Value) (Value, error) {
	if len(args) != 5 {
		return Value{}, newError(WrongArity, "map expects 5 arguments")
	}
	x, inMin, inMax, outMin, outMax := args[0].AsInt(), args[1].AsInt(), args[2].AsInt(), args[3].AsInt(), args[4].AsInt()
	if inMax == inMin {
		return Value{}, newError(DivisionByZero, "map: fromHigh equals fromLow")
	}
	return IntValue((x-inMin)*(outMax-outMin)/(inMax-inMin) + outMin), nil
}

func biConstrain(d *Driver, args []Value) (Value, error) {
	if len(args) != 3 {
		return Value{}, newError(WrongArity, "constrain expects 3 arguments")
	}
	x, lo, hi := args[0], args[1], args[2]
	if compareValues(x, lo) < 0 {
		return lo, nil
	}
	if compareValues(x, hi) > 0 {
		return hi, nil
	}
	return x, nil
}

func biMin(d *Driver, args []Value) (Value, error) {
	if len(args) != 2 {
		return Value{}, newError(WrongArity, "min expects 2 arguments")
	}
	if compareValues(args[0], args[1]) <= 0 {
		return args[0], nil
	}
	return args[1], nil
}

func biMax(d *Driver, args []Value) (Value, error) {
	if len(args) != 2 {
		return Value{}, newError(WrongArity, "max expects 2 arguments")
	}
	if compareValues(args[0], args[1]) >= 0 {
		return args[0], nil
	}
	return args[1], nil
}

func biAbs(d *Driver, args []Value) (Value, error) {
	if len(args) != 1 {
		return Value{}, newError(WrongArity, "abs expects 1 argument")
	}
	v := args[0]
	if v.isFloaty() {
		x := v.F64
		if x < 0 {
			x = -x
		}
		return FloatValue(x), nil
	}
	x := v.AsInt()
	if x < 0 {
		x = -x
	}
	return IntValue(x), nil
}

// callStringMethod implements the Arduino String object methods.
func callStringMethod(recv Value, method string, args []Value) (Value, error) {
	s := recv.AsString()
	switch method {
	case "length":
		return IntValue(int32(len(s))), nil
	case "charAt":
		if len(args) != 1 {
			return Value{}, newError(WrongArity, "charAt expects 1 argument")
		}
		idx := int(args[0].AsInt())
		if idx < 0 || idx >= len(s) {
			return StringValue(""), nil
		}
		return StringValue(string(s[idx])), nil
	case "substring":
		if len(args) < 1 {
			return Value{}, newError(WrongArity, "substring expects 1 or 2 arguments")
		}
		start := int(args[0].AsInt())
		end := len(s)
		if len(args) > 1 {
			end = int(args[1].AsInt())
		}
		if start < 0 {
			start = 0
		}
		if end > len(s) {
			end = len(s)
		}
		if start > end {
			start = end
		}
		return StringValue(s[start:end]), nil
	case "indexOf":
		if len(args) != 1 {
			return Value{}, newError(WrongArity, "indexOf expects 1 argument")
		}
		return IntValue(int32(strings.Index(s, args[0].AsString()))), nil
	case "toUpperCase":
		return StringValue(strings.ToUpper(s)), nil
	case "toLowerCase":
		return StringValue(strings.ToLower(s)), nil
	case "equals":
		if len(args) != 1 {
			return Value{}, newError(WrongArity, "equals expects 1 argument")
		}
		return BoolValue(s == args[0].AsString()), nil
	case "equalsIgnoreCase":
		if len(args) != 1 {
			return Value{}, newError(WrongArity, "equalsIgnoreCase expects 1 argument")
		}
		return BoolValue(strings.EqualFold(s, args[0].AsString())), nil
	default:
		return Value{}, newError(UndefinedName, "undefined String method %q", method)
	}
}
