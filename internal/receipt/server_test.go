package receipt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		validator   *mockValidator
		extractor   *mockExtractor
		service     *Service
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	}

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		validator = newMockValidator()
		extractor = newMockExtractor()
		auth = BasicAuth{}
		service = NewService(db, storage, validator, extractor)
		server = NewServerWithMux(service, auth, http.NewServeMux())
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	// uploadValidFile seeds a validated file without going through HTTP
	uploadValidFile := func() *ReceiptFile {
		file, err := service.Upload("receipt.pdf", []byte("%PDF-1.4 fake"))
		Expect(err).NotTo(HaveOccurred())
		file, err = service.Validate(file.ID)
		Expect(err).NotTo(HaveOccurred())
		return file
	}

	pdfUploadBody := func(fileName string) (*bytes.Buffer, string) {
		var b bytes.Buffer
		writer := multipart.NewWriter(&b)
		part, err := writer.CreateFormFile("file", fileName)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write([]byte("%PDF-1.4 fake pdf data"))
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).NotTo(HaveOccurred())
		return &b, writer.FormDataContentType()
	}

	Describe("handleUpload", func() {
		When("a PDF file is attached", func() {
			It("should return status Created with the new file id", func() {
				body, contentType := pdfUploadBody("groceries.pdf")
				resp, err := http.Post(ghttpServer.URL()+"/upload", contentType, body)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				var result map[string]string
				Expect(json.NewDecoder(resp.Body).Decode(&result)).NotTo(HaveOccurred())
				Expect(result["file_id"]).NotTo(BeEmpty())

				stored, getErr := db.GetFile(result["file_id"])
				Expect(getErr).NotTo(HaveOccurred())
				Expect(stored.Validity).To(Equal(ValidityUnvalidated))
			})

			It("should set Content-Type to application/json", func() {
				body, contentType := pdfUploadBody("groceries.pdf")
				resp, err := http.Post(ghttpServer.URL()+"/upload", contentType, body)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
			})
		})

		When("no file is attached", func() {
			It("should return status Bad Request", func() {
				var b bytes.Buffer
				writer := multipart.NewWriter(&b)
				Expect(writer.Close()).NotTo(HaveOccurred())

				resp, err := http.Post(ghttpServer.URL()+"/upload", writer.FormDataContentType(), &b)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(body)).To(ContainSubstring("file"))
			})
		})

		When("the file is not a PDF", func() {
			It("should return status Bad Request", func() {
				body, contentType := pdfUploadBody("receipt.jpg")
				resp, err := http.Post(ghttpServer.URL()+"/upload", contentType, body)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})

		When("the multipart form is malformed", func() {
			It("should return status Bad Request", func() {
				resp, err := http.Post(ghttpServer.URL()+"/upload", "multipart/form-data", bytes.NewBufferString("invalid"))
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})
	})

	Describe("handleValidate", func() {
		var fileID string

		BeforeEach(func() {
			file, err := service.Upload("receipt.pdf", []byte("%PDF-1.4 fake"))
			Expect(err).NotTo(HaveOccurred())
			fileID = file.ID
		})

		When("the file passes validation", func() {
			It("should return the verdict", func() {
				resp, err := http.Get(ghttpServer.URL() + "/validate?id=" + fileID)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var result struct {
					IsValid bool   `json:"is_valid"`
					Reason  string `json:"reason"`
				}
				Expect(json.NewDecoder(resp.Body).Decode(&result)).NotTo(HaveOccurred())
				Expect(result.IsValid).To(BeTrue())
				Expect(result.Reason).To(BeEmpty())
			})
		})

		When("the file fails validation", func() {
			BeforeEach(func() {
				validator.isValid = false
				validator.reason = "encrypted document"
			})

			It("should return the verdict with its reason", func() {
				resp, err := http.Get(ghttpServer.URL() + "/validate?id=" + fileID)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var result struct {
					IsValid bool   `json:"is_valid"`
					Reason  string `json:"reason"`
				}
				Expect(json.NewDecoder(resp.Body).Decode(&result)).NotTo(HaveOccurred())
				Expect(result.IsValid).To(BeFalse())
				Expect(result.Reason).To(Equal("encrypted document"))
			})
		})

		When("the id is unknown", func() {
			It("should return status Not Found", func() {
				resp, err := http.Get(ghttpServer.URL() + "/validate?id=nonexistent")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
				resp.Body.Close()
			})
		})

		When("the id parameter is missing", func() {
			It("should return status Bad Request", func() {
				resp, err := http.Get(ghttpServer.URL() + "/validate")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})
	})

	Describe("handleProcess", func() {
		var fileID string

		BeforeEach(func() {
			fileID = uploadValidFile().ID
		})

		When("the file is valid and unprocessed", func() {
			It("should return status Created with the extracted receipt", func() {
				resp, err := http.Post(ghttpServer.URL()+"/process?id="+fileID, "application/json", nil)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				var created Receipt
				Expect(json.NewDecoder(resp.Body).Decode(&created)).NotTo(HaveOccurred())
				Expect(created.MerchantName).To(Equal("CVS Pharmacy"))
				Expect(created.TotalAmount).To(Equal(2599))
				Expect(created.FileID).To(Equal(fileID))
			})
		})

		When("the file is already processed", func() {
			BeforeEach(func() {
				_, err := service.Process(context.Background(), fileID)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return status Conflict", func() {
				resp, err := http.Post(ghttpServer.URL()+"/process?id="+fileID, "application/json", nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusConflict))
				resp.Body.Close()
			})
		})

		When("the file is not valid", func() {
			BeforeEach(func() {
				_, err := db.SetValidity(fileID, ValidityInvalid, "no extractable content")
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return status Conflict", func() {
				resp, err := http.Post(ghttpServer.URL()+"/process?id="+fileID, "application/json", nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusConflict))
				resp.Body.Close()
			})
		})

		When("extraction fails", func() {
			BeforeEach(func() {
				extractor.extractErr = errors.New("model could not read the receipt")
			})

			It("should return status Bad Gateway", func() {
				resp, err := http.Post(ghttpServer.URL()+"/process?id="+fileID, "application/json", nil)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))

				var response map[string]string
				Expect(json.NewDecoder(resp.Body).Decode(&response)).NotTo(HaveOccurred())
				Expect(response).To(HaveKey("error"))
			})
		})

		When("the id is unknown", func() {
			It("should return status Not Found", func() {
				resp, err := http.Post(ghttpServer.URL()+"/process?id=nonexistent", "application/json", nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
				resp.Body.Close()
			})
		})
	})

	Describe("handleListFiles", func() {
		When("files exist", func() {
			BeforeEach(func() {
				_, err := service.Upload("a.pdf", []byte("%PDF-1.4 a"))
				Expect(err).NotTo(HaveOccurred())
				_, err = service.Upload("b.pdf", []byte("%PDF-1.4 b"))
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return all files in upload order", func() {
				resp, err := http.Get(ghttpServer.URL() + "/receipt-files")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

				var files []*ReceiptFile
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(json.Unmarshal(body, &files)).NotTo(HaveOccurred())
				Expect(files).To(HaveLen(2))
				Expect(files[0].FileName).To(Equal("a.pdf"))
				Expect(files[1].FileName).To(Equal("b.pdf"))
			})
		})

		When("no files exist", func() {
			It("should return an empty array", func() {
				resp, err := http.Get(ghttpServer.URL() + "/receipt-files")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var files []*ReceiptFile
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(json.Unmarshal(body, &files)).NotTo(HaveOccurred())
				Expect(files).To(BeEmpty())
			})
		})

		When("the registry returns an error", func() {
			BeforeEach(func() {
				db.listErr = errors.New("database error")
			})

			It("should return status Internal Server Error", func() {
				resp, err := http.Get(ghttpServer.URL() + "/receipt-files")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				resp.Body.Close()
			})
		})
	})

	Describe("handleListReceipts", func() {
		When("receipts exist", func() {
			BeforeEach(func() {
				fileID := uploadValidFile().ID
				_, err := service.Process(context.Background(), fileID)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return all receipts", func() {
				resp, err := http.Get(ghttpServer.URL() + "/receipts")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var receipts []*Receipt
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(json.Unmarshal(body, &receipts)).NotTo(HaveOccurred())
				Expect(receipts).To(HaveLen(1))
				Expect(receipts[0].MerchantName).To(Equal("CVS Pharmacy"))
			})
		})

		When("no receipts exist", func() {
			It("should return an empty array", func() {
				resp, err := http.Get(ghttpServer.URL() + "/receipts")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var receipts []*Receipt
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(json.Unmarshal(body, &receipts)).NotTo(HaveOccurred())
				Expect(receipts).To(BeEmpty())
			})
		})
	})

	Describe("handleGetReceipt", func() {
		When("the receipt exists", func() {
			var receiptID, fileID string

			BeforeEach(func() {
				fileID = uploadValidFile().ID
				created, err := service.Process(context.Background(), fileID)
				Expect(err).NotTo(HaveOccurred())
				receiptID = created.ID
			})

			It("should return the full record", func() {
				resp, err := http.Get(ghttpServer.URL() + "/receipts/" + receiptID)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var got Receipt
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(json.Unmarshal(body, &got)).NotTo(HaveOccurred())
				Expect(got.ID).To(Equal(receiptID))
				Expect(got.FileID).To(Equal(fileID))
			})
		})

		When("the receipt does not exist", func() {
			It("should return status Not Found", func() {
				resp, err := http.Get(ghttpServer.URL() + "/receipts/nonexistent")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
				resp.Body.Close()
			})
		})
	})

	Describe("requireAuth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "user", Password: "pass"}
			server = NewServerWithMux(service, auth, http.NewServeMux())
			setupServer()
		})

		When("request has no credentials", func() {
			It("should return status Unauthorized", func() {
				resp, err := http.Get(ghttpServer.URL() + "/receipts")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				Expect(resp.Header.Get("WWW-Authenticate")).NotTo(BeEmpty())
			})
		})

		When("request carries the right credentials", func() {
			It("should return status OK", func() {
				req, err := http.NewRequest("GET", ghttpServer.URL()+"/receipts", nil)
				Expect(err).NotTo(HaveOccurred())
				req.SetBasicAuth("user", "pass")

				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				resp.Body.Close()
			})
		})

		When("request carries the wrong credentials", func() {
			It("should return status Unauthorized", func() {
				req, err := http.NewRequest("GET", ghttpServer.URL()+"/receipts", nil)
				Expect(err).NotTo(HaveOccurred())
				req.SetBasicAuth("user", "wrong")

				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				resp.Body.Close()
			})
		})
	})
})
