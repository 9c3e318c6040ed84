package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"markethours/internal/domain"
	"markethours/internal/oracle"
)

type output struct {
	format string
	w      io.Writer
}

func (o *output) json(v any) error {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (o *output) receipt(rc *domain.Receipt) error {
	if o.format == "json" {
		return o.json(rc)
	}
	state := "ok"
	if !rc.Success {
		state = "failed: " + rc.Error
	}
	fmt.Fprintf(o.w, "%s  %s  %s\n", rc.ID, rc.Instruction, state)
	fmt.Fprintf(o.w, "  signer:    %s\n", rc.Signer)
	fmt.Fprintf(o.w, "  timestamp: %d (%s)\n", rc.UnixTimestamp, time.Unix(rc.UnixTimestamp, 0).UTC().Format(time.RFC3339))
	if rc.Reward > 0 {
		fmt.Fprintf(o.w, "  reward:    %d lamports\n", rc.Reward)
	}
	for _, l := range rc.Logs {
		fmt.Fprintf(o.w, "  log: %s\n", l)
	}
	return nil
}

func (o *output) receipts(rs []domain.Receipt) error {
	if o.format == "json" {
		return o.json(rs)
	}
	for _, rc := range rs {
		ok := "ok"
		if !rc.Success {
			ok = "failed"
		}
		fmt.Fprintf(o.w, "%s  %-13s %-6s signer=%s reward=%d\n",
			rc.CreatedAt.UTC().Format(time.RFC3339), rc.Instruction, ok, rc.Signer, rc.Reward)
	}
	return nil
}

func (o *output) clock(v *oracle.ClockView) error {
	if o.format == "json" {
		return o.json(v)
	}
	fmt.Fprintf(o.w, "now:         %s (%s)\n", time.Unix(v.UnixTimestamp, 0).UTC().Format(time.RFC3339), v.Weekday)
	fmt.Fprintf(o.w, "open:        %t\n", v.Open)
	fmt.Fprintf(o.w, "near edge:   %t\n", v.NearOpenOrClose)
	fmt.Fprintf(o.w, "next open:   %s\n", time.Unix(v.NextOpen, 0).UTC().Format(time.RFC3339))
	fmt.Fprintf(o.w, "next close:  %s\n", time.Unix(v.NextClose, 0).UTC().Format(time.RFC3339))
	return nil
}

func (o *output) status(st *oracle.Status) error {
	if o.format == "json" {
		return o.json(st)
	}
	fmt.Fprintf(o.w, "program:      %s\n", st.ProgramID)
	fmt.Fprintf(o.w, "oracle:       %s\n", st.Oracle)
	fmt.Fprintf(o.w, "reward vault: %s (%d lamports)\n", st.RewardVault, st.VaultBalance)
	if !st.Initialized {
		fmt.Fprintln(o.w, "record:       not initialized")
	} else {
		r := st.Record
		fmt.Fprintf(o.w, "record:       v%d transfer=%s create=%s update=%s burn=%s\n",
			r.Version, r.Transfer, r.Create, r.Update, r.Burn)
	}
	fmt.Fprintf(o.w, "market open:  %t\n", st.Clock.Open)
	fmt.Fprintf(o.w, "crank pays:   %t (%d lamports)\n", st.RewardEligible, st.RewardLamports)
	return nil
}

func (o *output) kv(pairs ...any) error {
	if o.format == "json" {
		m := make(map[string]any, len(pairs)/2)
		for i := 0; i+1 < len(pairs); i += 2 {
			m[fmt.Sprint(pairs[i])] = pairs[i+1]
		}
		return o.json(m)
	}
	width := 0
	for i := 0; i < len(pairs); i += 2 {
		width = max(width, len(fmt.Sprint(pairs[i])))
	}
	for i := 0; i+1 < len(pairs); i += 2 {
		k := fmt.Sprint(pairs[i])
		fmt.Fprintf(o.w, "%s:%s %v\n", k, strings.Repeat(" ", width-len(k)), pairs[i+1])
	}
	return nil
}
