package chain

import "github.com/openverify/verify-api/pkg/model"

// ToBuildParams converts on-chain PDA params into build inputs. The stored
// args mirror the verifier tool's CLI: recognized flags peel off into their
// own fields and everything after "--" passes through as cargo args.
func (p *OtterBuildParams) ToBuildParams() model.BuildParams {
	out := model.BuildParams{
		ProgramID:  p.Address.String(),
		Repository: p.GitURL,
	}
	if p.Commit != "" {
		commit := p.Commit
		out.Commit = &commit
	}

	takeValue := func(i int) (*string, int) {
		if i+1 < len(p.Args) {
			v := p.Args[i+1]
			return &v, i + 1
		}
		return nil, i
	}

	for i := 0; i < len(p.Args); i++ {
		switch p.Args[i] {
		case "--library-name":
			out.LibName, i = takeValue(i)
		case "--base-image", "-b":
			out.BaseImage, i = takeValue(i)
		case "--mount-path":
			out.MountPath, i = takeValue(i)
		case "--arch":
			out.Arch, i = takeValue(i)
		case "--bpf":
			out.BPFFlag = true
		case "--":
			out.CargoArgs = append(out.CargoArgs, p.Args[i+1:]...)
			return out
		}
	}
	return out
}
