package esim

import (
	"gonum.org/v1/gonum/mat"

	"github.com/ppiankov/veritas/internal/nn"
)

// Alignment is the soft alignment between a claim and one sentence.
type Alignment struct {
	Claim *mat.Dense // T1×D
	Sent  *mat.Dense // T2×D
	L1    int
	L2    int
	// A normalizes each claim position over the real sentence positions,
	// B each sentence position over the real claim positions.
	A *mat.Dense // T1×T2
	B *mat.Dense // T2×T1
	// ClaimAttended is A·Sent, SentAttended is B·Claim. Rows beyond the
	// respective length are zero.
	ClaimAttended *mat.Dense
	SentAttended  *mat.Dense
}

// Attend computes the dot-product cross attention of claim and sent.
// Padding positions are excluded before normalization, so they receive
// exactly zero weight.
func Attend(claim, sent *mat.Dense, l1, l2 int) *Alignment {
	var e mat.Dense
	e.Mul(claim, sent.T())
	t1, t2 := e.Dims()

	al := &Alignment{
		Claim: claim,
		Sent:  sent,
		L1:    l1,
		L2:    l2,
		A:     nn.MaskedSoftmaxRows(&e, l1, l2),
		B:     nn.MaskedSoftmaxRows(mat.DenseCopyOf(e.T()), l2, l1),
	}
	_, d := claim.Dims()
	al.ClaimAttended = mat.NewDense(t1, d, nil)
	al.ClaimAttended.Mul(al.A, sent)
	al.SentAttended = mat.NewDense(t2, d, nil)
	al.SentAttended.Mul(al.B, claim)
	return al
}

// Backward maps the gradients of the attended matrices to gradients of the
// claim and sentence inputs.
func (al *Alignment) Backward(dClaimAtt, dSentAtt *mat.Dense) (dClaim, dSent *mat.Dense) {
	t1, d := al.Claim.Dims()
	t2, _ := al.Sent.Dims()
	dClaim = mat.NewDense(t1, d, nil)
	dSent = mat.NewDense(t2, d, nil)

	// ClaimAttended = A·Sent
	var dA, tmp mat.Dense
	dA.Mul(dClaimAtt, al.Sent.T())
	tmp.Mul(al.A.T(), dClaimAtt)
	dSent.Add(dSent, &tmp)

	// SentAttended = B·Claim
	var dB, tmp2 mat.Dense
	dB.Mul(dSentAtt, al.Claim.T())
	tmp2.Mul(al.B.T(), dSentAtt)
	dClaim.Add(dClaim, &tmp2)

	dE := nn.SoftmaxRowsBackward(al.A, &dA)
	dE.Add(dE, nn.SoftmaxRowsBackward(al.B, &dB).T())

	// E = Claim·Sentᵀ
	var dc, ds mat.Dense
	dc.Mul(dE, al.Sent)
	ds.Mul(dE.T(), al.Claim)
	dClaim.Add(dClaim, &dc)
	dSent.Add(dSent, &ds)
	return dClaim, dSent
}
